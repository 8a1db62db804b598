package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/eventbus"
)

// Auditor feeds the invocation log from bus events, keeping database
// writes off the host tick entirely.
type Auditor struct {
	log   zerolog.Logger
	store *InvocationStore
}

// NewAuditor wraps the store.
func NewAuditor(log zerolog.Logger, store *InvocationStore) *Auditor {
	return &Auditor{
		log:   log.With().Str("component", "audit").Logger(),
		store: store,
	}
}

// Bind subscribes the auditor to executed jobs.
func (a *Auditor) Bind(bus *eventbus.EventBus) {
	bus.SubscribeJobExecuted(func(p eventbus.JobExecutedPayload) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := a.store.Record(ctx, Invocation{
			Command:   p.Command,
			Status:    p.Status,
			Duration:  p.Duration,
			InvokedAt: time.Now(),
		})
		if err != nil {
			a.log.Warn().Str("command", p.Command).Err(err).Msg("audit record failed")
		}
	})
}

// Register implements command.Module, exposing the audit log to clients.
func (a *Auditor) Register(r *command.Registry) {
	r.Register(command.Descriptor{
		Name:        "audit_list",
		Description: "List recent command invocations, newest first",
		Params: []command.Param{
			{Name: "command", Kind: command.KindString, Description: "Filter by exact command name"},
			{Name: "limit", Kind: command.KindInt, Default: 50},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			invs, err := a.store.List(ctx, args.String("command"), int(args.Int("limit")))
			if err != nil {
				return nil, err
			}
			return map[string]any{"invocations": invs, "count": len(invs)}, nil
		},
	})
}
