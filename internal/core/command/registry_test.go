package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, filter Filter) *Registry {
	t.Helper()
	return NewRegistry(zerolog.Nop(), filter)
}

func pingDescriptor() Descriptor {
	return Descriptor{
		Name:        "ping",
		Description: "liveness probe",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return "pong", nil
		},
	}
}

func TestExecute_CaseInsensitive(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())

	for _, name := range []string{"ping", "PING", "Ping"} {
		res, err := reg.Execute(context.Background(), name, []byte(`{}`))
		require.NoError(t, err, "name %q", name)
		assert.Equal(t, "success", res.Status)
		assert.Equal(t, "pong", res.Result)
	}
}

func TestExecute_NotFound(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())

	_, err := reg.Execute(context.Background(), "nope", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecute_CoercesArguments(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{
		Name: "make_thing",
		Params: []Param{
			{Name: "name", Kind: KindString, Required: true},
			{Name: "count", Kind: KindInt, Default: int64(1)},
			{Name: "position", Kind: KindVector},
			{Name: "tint", Kind: KindColor},
			{Name: "active", Kind: KindBool, Default: true},
		},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return map[string]any{
				"name":     args.String("name"),
				"count":    args.Int("count"),
				"position": args.Vector("position"),
				"tint":     args.Color("tint"),
				"active":   args.Bool("active"),
			}, nil
		},
	})

	body := `{
		"name": "box",
		"position": [1, 2, 3],
		"tint": {"r": 0.5, "g": 0.25, "b": 0}
	}`
	res, err := reg.Execute(context.Background(), "make_thing", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "success", res.Status)

	got := res.Result.(map[string]any)
	assert.Equal(t, "box", got["name"])
	assert.Equal(t, int64(1), got["count"], "default applied")
	assert.Equal(t, Vector{X: 1, Y: 2, Z: 3}, got["position"])
	assert.Equal(t, Color{R: 0.5, G: 0.25, B: 0, A: 1}, got["tint"], "alpha defaults to 1")
	assert.Equal(t, true, got["active"])
}

func TestExecute_MissingRequired(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{
		Name:   "needy",
		Params: []Param{{Name: "target", Kind: KindString, Required: true}},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return nil, nil
		},
	})

	_, err := reg.Execute(context.Background(), "needy", []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestExecute_MalformedArgument(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{
		Name:   "typed",
		Params: []Param{{Name: "count", Kind: KindInt, Required: true}},
		Handler: func(ctx context.Context, args Args) (any, error) {
			return nil, nil
		},
	})

	tests := []struct {
		name string
		body string
	}{
		{"wrong type", `{"count": "three"}`},
		{"fractional int", `{"count": 1.5}`},
		{"body not object", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), "typed", []byte(tt.body))
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestExecute_IgnoresUnknownArgs(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())

	// The reference controller always sends "verbose"; unknown names must
	// not fail dispatch.
	res, err := reg.Execute(context.Background(), "ping", []byte(`{"verbose": false}`))
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
}

func TestExecute_HandlerErrorBecomesPayload(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{
		Name: "broken",
		Handler: func(ctx context.Context, args Args) (any, error) {
			return nil, errors.New("disk on fire")
		},
	})

	res, err := reg.Execute(context.Background(), "broken", []byte(`{}`))
	require.NoError(t, err, "handler failures must not escape as errors")
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "disk on fire")
}

func TestExecute_HandlerPanicRecovered(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{
		Name: "panicky",
		Handler: func(ctx context.Context, args Args) (any, error) {
			panic("boom")
		},
	})

	res, err := reg.Execute(context.Background(), "panicky", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "boom")
}

func TestRegister_DuplicatePanics(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())

	assert.Panics(t, func() {
		reg.Register(pingDescriptor())
	})
}

func TestRegister_AfterBuildPanics(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())
	_ = reg.Manifest()

	assert.Panics(t, func() {
		reg.Register(Descriptor{Name: "late", Handler: pingDescriptor().Handler})
	})
}

func TestManifest_SortedAndDefensive(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(Descriptor{Name: "zeta", Handler: pingDescriptor().Handler})
	reg.Register(Descriptor{
		Name:    "alpha",
		Params:  []Param{{Name: "x", Kind: KindFloat}},
		Handler: pingDescriptor().Handler,
	})

	m := reg.Manifest()
	require.Len(t, m, 2)
	assert.Equal(t, "alpha", m[0].Name)
	assert.Equal(t, "zeta", m[1].Name)

	// Mutating the returned slice must not affect later calls.
	m[0].Name = "mutated"
	m[0].Params[0].Name = "mutated"

	again := reg.Manifest()
	assert.Equal(t, "alpha", again[0].Name)
	assert.Equal(t, "x", again[0].Params[0].Name)
}

func TestFilter_HidesCommands(t *testing.T) {
	reg := newTestRegistry(t, func(name string) bool { return name != "secret" })
	reg.Register(pingDescriptor())
	reg.Register(Descriptor{Name: "secret", Handler: pingDescriptor().Handler})

	m := reg.Manifest()
	require.Len(t, m, 1)
	assert.Equal(t, "ping", m[0].Name)

	_, err := reg.Execute(context.Background(), "secret", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInterceptor_OrderAndWrapping(t *testing.T) {
	reg := newTestRegistry(t, nil)

	var order []string
	reg.Use(func(desc Descriptor, next Handler) Handler {
		return func(ctx context.Context, args Args) (any, error) {
			order = append(order, "outer")
			return next(ctx, args)
		}
	})
	reg.Use(func(desc Descriptor, next Handler) Handler {
		return func(ctx context.Context, args Args) (any, error) {
			order = append(order, "inner")
			return next(ctx, args)
		}
	})
	reg.Register(pingDescriptor())

	_, err := reg.Execute(context.Background(), "ping", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestBuild_ConcurrentFirstAccess(t *testing.T) {
	reg := newTestRegistry(t, nil)
	reg.Register(pingDescriptor())

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.Execute(context.Background(), "ping", []byte(`{}`))
			assert.NoError(t, err)
			assert.Equal(t, "success", res.Status)
		}()
	}
	wg.Wait()

	assert.Len(t, reg.Manifest(), 1)
}

func TestResult_JSONShape(t *testing.T) {
	data, err := json.Marshal(Success(map[string]int{"x": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","result":{"x":1}}`, string(data))

	data, err = json.Marshal(Failure("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":"nope"}`, string(data))
}
