package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Interceptor wraps a handler with cross-cutting behavior (undo
// auto-tracking, audit logging). Interceptors are applied when the
// registry builds its dispatch table; the first registered interceptor is
// the outermost wrapper.
type Interceptor func(desc Descriptor, next Handler) Handler

// Filter decides whether a command is exposed at all. A nil filter
// exposes everything.
type Filter func(name string) bool

// Registry resolves command names to handlers and executes them with
// coerced arguments. Registration happens once at startup; the dispatch
// table is built lazily on first use and read-only afterwards.
type Registry struct {
	log    zerolog.Logger
	filter Filter

	mu           sync.Mutex
	descriptors  map[string]Descriptor // keyed by lower-cased name
	interceptors []Interceptor

	buildOnce sync.Once
	dispatch  map[string]Handler
	manifest  []ManifestEntry
}

// ManifestEntry is the introspectable description of one command.
type ManifestEntry struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"parameters"`
}

// NewRegistry creates an empty registry. filter may be nil.
func NewRegistry(log zerolog.Logger, filter Filter) *Registry {
	return &Registry{
		log:         log.With().Str("component", "command-registry").Logger(),
		filter:      filter,
		descriptors: make(map[string]Descriptor),
	}
}

// Register adds a command descriptor. Duplicate names and registration
// after the dispatch table is built are programmer errors and panic.
func (r *Registry) Register(desc Descriptor) {
	if desc.Name == "" {
		panic("command: descriptor with empty name")
	}
	if desc.Handler == nil {
		panic(fmt.Sprintf("command: descriptor %q has nil handler", desc.Name))
	}

	key := strings.ToLower(desc.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dispatch != nil {
		panic(fmt.Sprintf("command: Register(%q) after registry was built", desc.Name))
	}
	if _, exists := r.descriptors[key]; exists {
		panic(fmt.Sprintf("command: %q already registered", desc.Name))
	}

	r.log.Debug().Str("name", desc.Name).Msg("registering command")
	r.descriptors[key] = desc
}

// Use adds an interceptor. Must be called before first Execute/Manifest.
func (r *Registry) Use(ic Interceptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dispatch != nil {
		panic("command: Use after registry was built")
	}
	r.interceptors = append(r.interceptors, ic)
}

// build assembles the dispatch table exactly once. Safe under concurrent
// first access; later calls are no-ops.
func (r *Registry) build() {
	r.buildOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		dispatch := make(map[string]Handler, len(r.descriptors))
		manifest := make([]ManifestEntry, 0, len(r.descriptors))

		for key, desc := range r.descriptors {
			if r.filter != nil && !r.filter(desc.Name) {
				r.log.Debug().Str("name", desc.Name).Msg("command filtered out")
				continue
			}

			handler := desc.Handler
			for i := len(r.interceptors) - 1; i >= 0; i-- {
				handler = r.interceptors[i](desc, handler)
			}
			dispatch[key] = handler

			manifest = append(manifest, ManifestEntry{
				Name:        desc.Name,
				Description: desc.Description,
				Params:      append([]Param(nil), desc.Params...),
			})
		}

		sort.Slice(manifest, func(i, j int) bool { return manifest[i].Name < manifest[j].Name })

		r.dispatch = dispatch
		r.manifest = manifest
		r.log.Info().Int("commands", len(dispatch)).Msg("command registry built")
	})
}

// Manifest returns a defensive copy of the exposed command descriptions.
func (r *Registry) Manifest() []ManifestEntry {
	r.build()

	out := make([]ManifestEntry, len(r.manifest))
	copy(out, r.manifest)
	for i := range out {
		out[i].Params = append([]Param(nil), r.manifest[i].Params...)
	}
	return out
}

// Execute resolves name case-insensitively, coerces args, and invokes the
// handler. The returned error is non-nil only for ErrNotFound and
// ErrInvalidArgument; handler failures (including panics) are converted
// into an error Result and never escape.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs json.RawMessage) (Result, error) {
	r.build()

	handler, ok := r.dispatch[strings.ToLower(name)]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	desc := r.descriptors[strings.ToLower(name)]
	args, err := coerceArgs(desc.Params, rawArgs)
	if err != nil {
		return Result{}, err
	}

	return r.invoke(ctx, desc, handler, args), nil
}

// invoke runs the handler under panic recovery.
func (r *Registry) invoke(ctx context.Context, desc Descriptor, handler Handler, args Args) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("command", desc.Name).Any("panic", rec).Msg("handler panicked")
			res = Failure(fmt.Sprintf("command %q panicked: %v", desc.Name, rec))
		}
	}()

	out, err := handler(ctx, args)
	if err != nil {
		r.log.Warn().Str("command", desc.Name).Err(err).Msg("handler failed")
		return Failure(err.Error())
	}

	return Success(out)
}
