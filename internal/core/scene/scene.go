// Package scene contributes the object-manipulation commands backed by the
// host runtime.
package scene

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tether/internal/core/batch"
	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/host"
	"github.com/colonyops/tether/internal/core/workflow"
	"github.com/colonyops/tether/pkg/randid"
)

// Module registers the scene commands. Mutating handlers snapshot through
// the workflow manager so everything they touch is undoable.
type Module struct {
	log  zerolog.Logger
	host *host.MemHost
	mgr  *workflow.Manager
}

// New wires the scene module.
func New(log zerolog.Logger, h *host.MemHost, mgr *workflow.Manager) *Module {
	return &Module{
		log:  log.With().Str("component", "scene").Logger(),
		host: h,
		mgr:  mgr,
	}
}

type propertyItem struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type createItem struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	Active     *bool          `json:"active,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Register implements command.Module.
func (m *Module) Register(r *command.Registry) {
	r.Register(command.Descriptor{
		Name:        "ping",
		Description: "Liveness probe; returns pong and the host time",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return map[string]any{"message": "pong", "time": time.Now().Format(time.RFC3339)}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "create_object",
		Description: "Create an object in the scene",
		Params: []command.Param{
			{Name: "name", Kind: command.KindString, Required: true},
			{Name: "id", Kind: command.KindString, Description: "Omit to auto-generate"},
			{Name: "active", Kind: command.KindBool, Default: true},
			{Name: "properties", Kind: command.KindJSON},
		},
		Mutates: "id",
		Handler: m.createObject,
	})

	r.Register(command.Descriptor{
		Name:        "delete_object",
		Description: "Remove an object from the scene",
		Params: []command.Param{
			{Name: "id", Kind: command.KindString, Required: true},
		},
		Mutates: "id",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			id := args.String("id")
			if err := m.host.DestroyEntity(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"id": id}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "set_property",
		Description: "Set one property on an object",
		Params: []command.Param{
			{Name: "id", Kind: command.KindString, Required: true},
			{Name: "key", Kind: command.KindString, Required: true},
			{Name: "value", Kind: command.KindJSON, Required: true},
		},
		Mutates: "id",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			var value any
			if err := json.Unmarshal(args.JSON("value"), &value); err != nil {
				return nil, fmt.Errorf("decode value: %w", err)
			}
			id := args.String("id")
			if err := m.host.SetProperty(id, args.String("key"), value); err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "key": args.String("key")}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "set_active",
		Description: "Toggle an object's active flag",
		Params: []command.Param{
			{Name: "id", Kind: command.KindString, Required: true},
			{Name: "active", Kind: command.KindBool, Required: true},
		},
		Mutates: "id",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			id := args.String("id")
			if err := m.host.SetActive(id, args.Bool("active")); err != nil {
				return nil, err
			}
			return map[string]any{"id": id, "active": args.Bool("active")}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "get_object",
		Description: "Fetch one object's state",
		Params: []command.Param{
			{Name: "id", Kind: command.KindString, Required: true},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			obj, err := m.host.Get(args.String("id"))
			if err != nil {
				return nil, err
			}
			return obj, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "list_objects",
		Description: "List the ids of every object in the scene",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			ids := m.host.List()
			return map[string]any{"ids": ids, "count": len(ids)}, nil
		},
	})

	// Batch commands snapshot per item themselves; Mutates only buys them
	// the implicit task bracket when no explicit task is open.
	r.Register(command.Descriptor{
		Name:        "set_properties_batch",
		Description: "Set properties on many objects in one call; failures are isolated per item",
		Params: []command.Param{
			{Name: "items", Kind: command.KindJSON, Required: true},
		},
		Mutates: "items",
		Handler: m.setPropertiesBatch,
	})

	r.Register(command.Descriptor{
		Name:        "create_objects_batch",
		Description: "Create many objects in one call; failures are isolated per item",
		Params: []command.Param{
			{Name: "items", Kind: command.KindJSON, Required: true},
		},
		Mutates: "items",
		Handler: m.createObjectsBatch,
	})

	r.Register(command.Descriptor{
		Name:        "delete_objects_batch",
		Description: "Delete many objects in one call; failures are isolated per item",
		Params: []command.Param{
			{Name: "items", Kind: command.KindJSON, Required: true},
		},
		Mutates: "items",
		Handler: m.deleteObjectsBatch,
	})
}

func (m *Module) createObject(ctx context.Context, args command.Args) (any, error) {
	id := args.String("id")
	if id == "" {
		id = "obj-" + randid.Generate(8)
	}

	obj := host.Object{Name: args.String("name"), Active: args.Bool("active")}
	if props := args.JSON("properties"); len(props) > 0 {
		if err := json.Unmarshal(props, &obj.Properties); err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
	}

	if err := m.host.Create(id, obj); err != nil {
		return nil, err
	}
	m.mgr.SnapshotCreated(id)
	return map[string]any{"id": id}, nil
}

func (m *Module) setPropertiesBatch(ctx context.Context, args command.Args) (any, error) {
	return batch.Run(ctx, m.log, args.JSON("items"),
		func(ctx context.Context, it propertyItem) (any, error) {
			m.mgr.SnapshotObject(ctx, it.ID)
			if err := m.host.SetProperty(it.ID, it.Key, it.Value); err != nil {
				return nil, err
			}
			return nil, nil
		},
		batch.Options[propertyItem]{
			Identify: func(it propertyItem) string { return it.ID },
		})
}

func (m *Module) createObjectsBatch(ctx context.Context, args command.Args) (any, error) {
	return batch.Run(ctx, m.log, args.JSON("items"),
		func(ctx context.Context, it createItem) (any, error) {
			id := it.ID
			if id == "" {
				id = "obj-" + randid.Generate(8)
			}
			obj := host.Object{Name: it.Name, Active: true, Properties: it.Properties}
			if it.Active != nil {
				obj.Active = *it.Active
			}
			if err := m.host.Create(id, obj); err != nil {
				return nil, err
			}
			m.mgr.SnapshotCreated(id)
			return map[string]any{"id": id}, nil
		},
		batch.Options[createItem]{
			Identify: func(it createItem) string {
				if it.ID != "" {
					return it.ID
				}
				return it.Name
			},
		})
}

func (m *Module) deleteObjectsBatch(ctx context.Context, args command.Args) (any, error) {
	return batch.Run(ctx, m.log, args.JSON("items"),
		func(ctx context.Context, id string) (any, error) {
			m.mgr.SnapshotObject(ctx, id)
			if err := m.host.DestroyEntity(ctx, id); err != nil {
				return nil, err
			}
			return nil, nil
		},
		batch.Options[string]{
			Identify: func(id string) string { return id },
		})
}
