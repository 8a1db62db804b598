package workflow

import (
	"context"

	"github.com/colonyops/tether/internal/core/command"
)

// Commands exposes the undo workflow as registry commands.
type Commands struct {
	mgr *Manager
}

// NewCommands wraps a manager for registration.
func NewCommands(mgr *Manager) *Commands {
	return &Commands{mgr: mgr}
}

// taskSummary is the wire shape of a committed task.
type taskSummary struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`
	Label     string `json:"label"`
	Status    string `json:"status"`
	Snapshots int    `json:"snapshots"`
	Created   int    `json:"created"`
	Truncated bool   `json:"truncated,omitempty"`
	Dropped   int    `json:"dropped,omitempty"`
	CreatedAt string `json:"created_at"`
}

func summarize(t *Task) taskSummary {
	return taskSummary{
		TaskID:    t.ID,
		SessionID: t.SessionID,
		Label:     t.Label,
		Status:    string(t.Status),
		Snapshots: len(t.Snapshots),
		Created:   len(t.Created),
		Truncated: t.Truncated,
		Dropped:   t.Dropped,
		CreatedAt: t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// Register implements command.Module.
func (c *Commands) Register(r *command.Registry) {
	r.Register(command.Descriptor{
		Name:        "task_start",
		Description: "Open a task; subsequent mutations are grouped for undo",
		Params: []command.Param{
			{Name: "label", Kind: command.KindString, Required: true},
			{Name: "description", Kind: command.KindString},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			task, err := c.mgr.TaskStart(args.String("label"), args.String("description"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"task_id": task.ID}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "task_end",
		Description: "Close the open task and commit it to history",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			task, err := c.mgr.TaskEnd()
			if err != nil {
				return nil, err
			}
			return summarize(task), nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "task_undo",
		Description: "Restore every target a closed task touched to its pre-task state",
		Params: []command.Param{
			{Name: "task_id", Kind: command.KindString, Required: true},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return c.mgr.TaskUndo(ctx, args.String("task_id"))
		},
	})

	r.Register(command.Descriptor{
		Name:        "task_redo",
		Description: "Re-apply an undone task; omit task_id for the most recently undone",
		Params: []command.Param{
			{Name: "task_id", Kind: command.KindString},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return c.mgr.TaskRedo(ctx, args.String("task_id"))
		},
	})

	r.Register(command.Descriptor{
		Name:        "session_start",
		Description: "Open a session bracketing subsequent tasks for bulk undo",
		Params: []command.Param{
			{Name: "label", Kind: command.KindString},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			sess, err := c.mgr.SessionStart(args.String("label"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"session_id": sess.ID}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "session_end",
		Description: "Close the recording session and commit it to history",
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			sess, err := c.mgr.SessionEnd()
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"session_id": sess.ID,
				"tasks":      sess.TaskCount,
				"snapshots":  sess.SnapshotCount,
			}, nil
		},
	})

	r.Register(command.Descriptor{
		Name:        "session_undo",
		Description: "Undo a session's tasks in reverse order; omit session_id for the latest",
		Params: []command.Param{
			{Name: "session_id", Kind: command.KindString},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			return c.mgr.SessionUndo(ctx, args.String("session_id"))
		},
	})

	r.Register(command.Descriptor{
		Name:        "history_list",
		Description: "List committed tasks, newest first",
		Params: []command.Param{
			{Name: "limit", Kind: command.KindInt, Default: 50},
		},
		Handler: func(ctx context.Context, args command.Args) (any, error) {
			tasks := c.mgr.Tasks()
			limit := int(args.Int("limit"))
			if limit <= 0 || limit > len(tasks) {
				limit = len(tasks)
			}

			out := make([]taskSummary, 0, limit)
			for i := len(tasks) - 1; i >= 0 && len(out) < limit; i-- {
				out = append(out, summarize(tasks[i]))
			}
			return map[string]any{"tasks": out, "total": len(tasks)}, nil
		},
	})
}
