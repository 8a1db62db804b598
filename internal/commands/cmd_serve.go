package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/tether/internal/core/bridge"
	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/discovery"
	"github.com/colonyops/tether/internal/core/eventbus"
	"github.com/colonyops/tether/internal/core/host"
	"github.com/colonyops/tether/internal/core/scene"
	"github.com/colonyops/tether/internal/core/workflow"
	"github.com/colonyops/tether/internal/data/db"
	"github.com/colonyops/tether/internal/data/stores"
	"github.com/colonyops/tether/internal/observability"
	"github.com/colonyops/tether/internal/transport"
)

type ServeCmd struct {
	flags *Flags

	projectPath string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge daemon for one project",
		Description: `Starts the long-running bridge: binds the first free port in the
configured range, advertises the instance in the shared registry, and
executes controller commands on the host tick until interrupted.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "project",
				Usage:       "project path this instance represents (defaults to the working directory)",
				Destination: &cmd.projectPath,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	projectPath := cmd.projectPath
	if projectPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		projectPath = wd
	}
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	bus := eventbus.New(256)
	go bus.Run(ctx)

	memHost := host.NewMemHost(log.Logger, cfg.Bridge.TickInterval)

	mgr, err := workflow.NewManager(log.Logger, memHost, workflow.NewHistoryStore(cfg.HistoryPath()), bus, cfg.Workflow.SnapshotCap)
	if err != nil {
		return fmt.Errorf("load undo history: %w", err)
	}

	auditor := stores.NewAuditor(log.Logger, stores.NewInvocationStore(database))

	reg := command.NewRegistry(log.Logger, cfg.Commands.Exposes)
	reg.Use(workflow.AutoTrack(mgr))
	scene.New(log.Logger, memHost, mgr).Register(reg)
	workflow.NewCommands(mgr).Register(reg)
	auditor.Register(reg)

	br := bridge.New(log.Logger, reg, bus, cfg.Bridge.SubmitTimeout)

	metrics := observability.New(
		func() float64 { return float64(br.QueueDepth()) },
		func() float64 { return float64(bus.Dropped()) },
	)
	metrics.Bind(bus)
	auditor.Bind(bus)

	// Stable port across restarts when possible.
	preferred := discovery.LoadPreferredPort(cfg.PortFilePath())
	ln, port, err := discovery.BindFirstFree(preferred, cfg.Server.PortStart, cfg.Server.PortEnd)
	if err != nil {
		return err
	}
	if err := discovery.SavePreferredPort(cfg.PortFilePath(), port); err != nil {
		log.Warn().Err(err).Msg("persist preferred port failed")
	}

	entry := discovery.NewEntry(projectPath, port)
	dreg := discovery.NewRegistry(log.Logger, cfg.Registry.Path, cfg.Registry.StaleAfter)
	go func() {
		if err := dreg.Keep(ctx, entry, cfg.Registry.Heartbeat); err != nil {
			log.Error().Err(err).Msg("instance registration failed")
		}
	}()
	bus.PublishInstanceRegistered(eventbus.InstanceRegisteredPayload{
		InstanceID: entry.InstanceID,
		Port:       port,
	})

	srv := transport.NewServer(log.Logger, reg, br, metrics.Handler(), entry, transport.Config{
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		SubmitTimeout:    cfg.Bridge.SubmitTimeout,
		RateLimitEnabled: cfg.Server.RateLimit.Enabled,
		RateRPS:          cfg.Server.RateLimit.RPS,
		RateBurst:        cfg.Server.RateLimit.Burst,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	log.Info().
		Str("project", projectPath).
		Str("instance", entry.InstanceID).
		Int("port", port).
		Msg("tether ready")

	// The host tick loop is the single execution context: everything that
	// mutates host state runs from this drain.
	hostDone := make(chan struct{})
	go func() {
		memHost.Run(ctx, func(tickCtx context.Context) {
			br.Drain(tickCtx, cfg.Bridge.DrainMaxJobs)
		})
		close(hostDone)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	<-hostDone

	log.Info().Msg("tether stopped")
	return nil
}
