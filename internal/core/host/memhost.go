package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Object is one entity in the in-memory scene.
type Object struct {
	Name       string         `json:"name"`
	Active     bool           `json:"active"`
	Properties map[string]any `json:"properties,omitempty"`
}

const kindObject = "object"

// MemHost is an in-memory host runtime. It stands in for the engine
// editor loop when tether runs as a standalone daemon and doubles as the
// test double for everything that needs a Host.
//
// The mutex only guards against misuse from tests; in serve mode all
// access funnels through the tick goroutine.
type MemHost struct {
	log  zerolog.Logger
	tick time.Duration

	mu      sync.Mutex
	objects map[string]*Object
}

// NewMemHost creates an empty scene ticking at the given interval.
func NewMemHost(log zerolog.Logger, tick time.Duration) *MemHost {
	return &MemHost{
		log:     log.With().Str("component", "memhost").Logger(),
		tick:    tick,
		objects: make(map[string]*Object),
	}
}

// Run drives the per-tick callback until ctx is cancelled. This is the
// single logical execution context: onTick is where the bridge drains.
func (h *MemHost) Run(ctx context.Context, onTick func(ctx context.Context)) {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	h.log.Info().Dur("interval", h.tick).Msg("host tick loop started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("host tick loop stopped")
			return
		case <-ticker.C:
			onTick(ctx)
		}
	}
}

// CaptureState implements Host.
func (h *MemHost) CaptureState(ctx context.Context, id string) (string, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}

	state, err := json.Marshal(obj)
	if err != nil {
		return "", nil, fmt.Errorf("serialize %s: %w", id, err)
	}
	return kindObject, state, nil
}

// RestoreState implements Host with upsert semantics.
func (h *MemHost) RestoreState(ctx context.Context, id, kind string, state []byte) error {
	if kind != kindObject {
		return fmt.Errorf("unknown state kind %q for %s", kind, id)
	}

	var obj Object
	if err := json.Unmarshal(state, &obj); err != nil {
		return fmt.Errorf("deserialize %s: %w", id, err)
	}

	h.mu.Lock()
	h.objects[id] = &obj
	h.mu.Unlock()
	return nil
}

// DestroyEntity implements Host.
func (h *MemHost) DestroyEntity(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.objects[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	delete(h.objects, id)
	return nil
}

// Create adds a new object under id. Fails if the id is taken.
func (h *MemHost) Create(id string, obj Object) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.objects[id]; exists {
		return fmt.Errorf("entity %s already exists", id)
	}
	if obj.Properties == nil {
		obj.Properties = make(map[string]any)
	}
	h.objects[id] = &obj
	return nil
}

// Get returns a copy of the object under id.
func (h *MemHost) Get(id string) (Object, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return copyObject(obj), nil
}

// List returns all object ids in the scene.
func (h *MemHost) List() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	return ids
}

// SetProperty sets one property on an existing object.
func (h *MemHost) SetProperty(id, key string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if obj.Properties == nil {
		obj.Properties = make(map[string]any)
	}
	obj.Properties[key] = value
	return nil
}

// SetActive toggles an object's active flag.
func (h *MemHost) SetActive(id string, active bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	obj, ok := h.objects[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	obj.Active = active
	return nil
}

func copyObject(obj *Object) Object {
	out := Object{Name: obj.Name, Active: obj.Active}
	if obj.Properties != nil {
		out.Properties = make(map[string]any, len(obj.Properties))
		for k, v := range obj.Properties {
			out.Properties[k] = v
		}
	}
	return out
}
