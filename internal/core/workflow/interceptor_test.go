package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/host"
)

func trackedRegistry(t *testing.T, mgr *Manager, h *host.MemHost) *command.Registry {
	t.Helper()

	reg := command.NewRegistry(zerolog.Nop(), nil)
	reg.Use(AutoTrack(mgr))
	reg.Register(command.Descriptor{
		Name:    "set_value",
		Params:  []command.Param{{Name: "target", Kind: command.KindString, Required: true}, {Name: "value", Kind: command.KindFloat, Required: true}},
		Mutates: "target",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return nil, h.SetProperty(args.String("target"), "v", args.Float("value"))
		},
	})
	reg.Register(command.Descriptor{
		Name:   "read_value",
		Params: []command.Param{{Name: "target", Kind: command.KindString, Required: true}},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return h.Get(args.String("target"))
		},
	})
	return reg
}

func TestAutoTrack_BareMutationGetsImplicitTask(t *testing.T) {
	mgr, h, _ := newManager(t, 500)
	require.NoError(t, h.Create("obj", host.Object{Properties: map[string]any{"v": 1.0}}))
	reg := trackedRegistry(t, mgr, h)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "set_value", json.RawMessage(`{"target":"obj","value":5}`))
	require.NoError(t, err)
	require.Equal(t, "success", res.Status)

	// The implicit task committed and is undoable.
	require.Nil(t, mgr.ActiveTask())
	tasks := mgr.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "set_value", tasks[0].Label)

	_, err = mgr.TaskUndo(ctx, tasks[0].ID)
	require.NoError(t, err)
	obj, err := h.Get("obj")
	require.NoError(t, err)
	assert.Equal(t, 1.0, obj.Properties["v"])
}

func TestAutoTrack_ExplicitTaskAbsorbsMutations(t *testing.T) {
	mgr, h, _ := newManager(t, 500)
	require.NoError(t, h.Create("obj", host.Object{Properties: map[string]any{"v": 1.0}}))
	reg := trackedRegistry(t, mgr, h)
	ctx := context.Background()

	task, err := mgr.TaskStart("edits", "")
	require.NoError(t, err)

	for _, v := range []string{"2", "3"} {
		res, err := reg.Execute(ctx, "set_value", json.RawMessage(`{"target":"obj","value":`+v+`}`))
		require.NoError(t, err)
		require.Equal(t, "success", res.Status)
	}

	// Still one open task, one snapshot; no implicit tasks were created.
	require.NotNil(t, mgr.ActiveTask())
	assert.Equal(t, task.ID, mgr.ActiveTask().ID)
	assert.Len(t, mgr.ActiveTask().Snapshots, 1)
	assert.Empty(t, mgr.Tasks())
}

func TestAutoTrack_ReadOnlyPassesThrough(t *testing.T) {
	mgr, h, _ := newManager(t, 500)
	require.NoError(t, h.Create("obj", host.Object{}))
	reg := trackedRegistry(t, mgr, h)

	res, err := reg.Execute(context.Background(), "read_value", json.RawMessage(`{"target":"obj"}`))
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Empty(t, mgr.Tasks())
}

func TestAutoTrack_FailedHandlerStillCommitsTask(t *testing.T) {
	mgr, h, _ := newManager(t, 500)
	reg := trackedRegistry(t, mgr, h)

	// Target does not exist: handler fails, but the implicit task must
	// still close so the registry is left consistent.
	res, err := reg.Execute(context.Background(), "set_value", json.RawMessage(`{"target":"ghost","value":1}`))
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Nil(t, mgr.ActiveTask())
	assert.Len(t, mgr.Tasks(), 1)
}
