// Package workflow implements the transactional undo engine: tasks group
// snapshots of pre-mutation state, sessions group tasks, and a durable
// history store survives host restarts.
package workflow

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task lifecycle: open while recording, closed once ended, undone after a
// successful undo. Redo moves undone back to closed.
const (
	TaskOpen   TaskStatus = "open"
	TaskClosed TaskStatus = "closed"
	TaskUndone TaskStatus = "undone"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session lifecycle states.
const (
	SessionRecording SessionStatus = "recording"
	SessionClosed    SessionStatus = "closed"
)

// Snapshot is the captured prior state of one target. State size is
// unbounded by design; fidelity for large payloads beats a byte cap.
type Snapshot struct {
	TargetID   string          `json:"target_id"`
	Kind       string          `json:"kind"`
	State      json.RawMessage `json:"state"`
	CapturedAt time.Time       `json:"captured_at"`
}

// CreatedRecord marks an entity created inside a task, to be destroyed on
// undo.
type CreatedRecord struct {
	TargetID   string    `json:"target_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Task is a reversible, labeled group of state changes.
type Task struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id,omitempty"`
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Snapshots   []Snapshot      `json:"snapshots"`
	Created     []CreatedRecord `json:"created"`
	// Forward holds post-mutation state captured during undo, in the
	// order the undo pass visited targets. Redo replays it in reverse.
	Forward []Snapshot `json:"forward,omitempty"`
	Status  TaskStatus `json:"status"`
	// Truncated is set when the snapshot cap was hit; mutations past the
	// cap are not undoable and Dropped counts them.
	Truncated bool      `json:"truncated,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// captureCount is the number of tracked records against the cap.
func (t *Task) captureCount() int {
	return len(t.Snapshots) + len(t.Created)
}

// hasSnapshot reports whether a target already has a backward snapshot in
// this task. The first capture per target wins: it holds the pre-task
// state, which is the correct restore point.
func (t *Task) hasSnapshot(targetID string) bool {
	for _, s := range t.Snapshots {
		if s.TargetID == targetID {
			return true
		}
	}
	return false
}

// hasCreated reports whether a target is recorded as created in this task.
func (t *Task) hasCreated(targetID string) bool {
	for _, c := range t.Created {
		if c.TargetID == targetID {
			return true
		}
	}
	return false
}

// Session groups the tasks of one external interaction for bulk undo.
type Session struct {
	ID            string        `json:"id"`
	Label         string        `json:"label,omitempty"`
	TaskIDs       []string      `json:"task_ids"`
	TaskCount     int           `json:"task_count"`
	SnapshotCount int           `json:"snapshot_count"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at,omitempty"`
}

// UndoReport describes the outcome of a best-effort undo or redo pass.
type UndoReport struct {
	TaskID    string   `json:"task_id"`
	Restored  int      `json:"restored"`
	Destroyed int      `json:"destroyed"`
	Failed    []string `json:"failed,omitempty"`
}
