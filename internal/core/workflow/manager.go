package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/tether/internal/core/eventbus"
	"github.com/colonyops/tether/internal/core/host"
)

// Sentinel errors for workflow state transitions.
var (
	ErrNoTask           = errors.New("no open task")
	ErrTaskOpen         = errors.New("a task is already open")
	ErrTaskNotFound     = errors.New("task not found")
	ErrNoSession        = errors.New("no recording session")
	ErrSessionRecording = errors.New("a session is already recording")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNothingToRedo    = errors.New("nothing to redo")
)

// Manager is the transactional undo engine. All methods must be called
// from the single consumer context (the host tick); the manager carries no
// locking of its own by design.
type Manager struct {
	log         zerolog.Logger
	host        host.Host
	store       *HistoryStore
	bus         *eventbus.EventBus
	snapshotCap int

	active  *Task
	session *Session

	tasks        map[string]*Task
	taskOrder    []string
	sessions     map[string]*Session
	sessionOrder []string
	undone       []string // redo stack of undone task ids
}

// NewManager loads committed history and returns a ready manager. bus may
// be nil.
func NewManager(log zerolog.Logger, h host.Host, store *HistoryStore, bus *eventbus.EventBus, snapshotCap int) (*Manager, error) {
	m := &Manager{
		log:         log.With().Str("component", "workflow").Logger(),
		host:        h,
		store:       store,
		bus:         bus,
		snapshotCap: snapshotCap,
		tasks:       make(map[string]*Task),
		sessions:    make(map[string]*Session),
	}

	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, task := range doc.Tasks {
		m.tasks[task.ID] = task
		m.taskOrder = append(m.taskOrder, task.ID)
		if task.Status == TaskUndone {
			m.undone = append(m.undone, task.ID)
		}
	}
	for _, sess := range doc.Sessions {
		m.sessions[sess.ID] = sess
		m.sessionOrder = append(m.sessionOrder, sess.ID)
	}

	m.log.Info().Int("tasks", len(m.tasks)).Int("sessions", len(m.sessions)).Msg("history loaded")
	return m, nil
}

// ActiveTask returns the open task, or nil.
func (m *Manager) ActiveTask() *Task { return m.active }

// ActiveSession returns the recording session, or nil.
func (m *Manager) ActiveSession() *Session { return m.session }

// Tasks returns committed tasks in commit order.
func (m *Manager) Tasks() []*Task {
	out := make([]*Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		out = append(out, m.tasks[id])
	}
	return out
}

// Sessions returns committed sessions in commit order.
func (m *Manager) Sessions() []*Session {
	out := make([]*Session, 0, len(m.sessionOrder))
	for _, id := range m.sessionOrder {
		out = append(out, m.sessions[id])
	}
	return out
}

// SessionStart opens a recording session bracketing subsequent tasks.
func (m *Manager) SessionStart(label string) (*Session, error) {
	if m.session != nil {
		return nil, ErrSessionRecording
	}

	m.session = &Session{
		ID:        uuid.NewString(),
		Label:     label,
		Status:    SessionRecording,
		StartedAt: time.Now(),
	}
	m.log.Info().Str("session_id", m.session.ID).Str("label", label).Msg("session started")
	return m.session, nil
}

// SessionEnd closes the recording session and commits it.
func (m *Manager) SessionEnd() (*Session, error) {
	if m.session == nil {
		return nil, ErrNoSession
	}

	sess := m.session
	sess.Status = SessionClosed
	sess.EndedAt = time.Now()
	m.sessions[sess.ID] = sess
	m.sessionOrder = append(m.sessionOrder, sess.ID)
	m.session = nil

	if err := m.persist(); err != nil {
		return nil, err
	}
	m.log.Info().Str("session_id", sess.ID).Int("tasks", sess.TaskCount).Msg("session ended")
	return sess, nil
}

// TaskStart opens a task, nested inside the recording session if one
// exists.
func (m *Manager) TaskStart(label, description string) (*Task, error) {
	if m.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskOpen, m.active.ID)
	}

	task := &Task{
		ID:          uuid.NewString(),
		Label:       label,
		Description: description,
		Status:      TaskOpen,
		CreatedAt:   time.Now(),
	}
	if m.session != nil {
		task.SessionID = m.session.ID
	}

	m.active = task
	m.log.Debug().Str("task_id", task.ID).Str("label", label).Msg("task started")
	return task, nil
}

// SnapshotObject captures the target's current state into the open task.
// Safe no-op when no task is open, so callers may invoke it
// unconditionally before any mutation. Only the first capture per target
// is kept: it holds the pre-task state.
func (m *Manager) SnapshotObject(ctx context.Context, targetID string) {
	task := m.active
	if task == nil || targetID == "" {
		return
	}
	if task.hasSnapshot(targetID) || task.hasCreated(targetID) {
		return
	}
	if m.capExceeded(task) {
		return
	}

	kind, state, err := m.host.CaptureState(ctx, targetID)
	if err != nil {
		// Unconditional-call contract: a missing target is not an error
		// for the caller, but it is no longer undoable either.
		m.log.Warn().Str("task_id", task.ID).Str("target", targetID).Err(err).Msg("snapshot capture failed")
		return
	}

	task.Snapshots = append(task.Snapshots, Snapshot{
		TargetID:   targetID,
		Kind:       kind,
		State:      state,
		CapturedAt: time.Now(),
	})
}

// SnapshotCreated records a just-created entity so undo knows to destroy
// it. Safe no-op when no task is open.
func (m *Manager) SnapshotCreated(targetID string) {
	task := m.active
	if task == nil || targetID == "" {
		return
	}
	if task.hasCreated(targetID) {
		return
	}
	if m.capExceeded(task) {
		return
	}

	task.Created = append(task.Created, CreatedRecord{
		TargetID:   targetID,
		RecordedAt: time.Now(),
	})
}

// capExceeded enforces the per-task capture cap. Past the cap, mutations
// stop being undoable; that is logged loudly once, never swallowed.
func (m *Manager) capExceeded(task *Task) bool {
	if task.captureCount() < m.snapshotCap {
		return false
	}
	task.Dropped++
	if !task.Truncated {
		task.Truncated = true
		m.log.Warn().
			Str("task_id", task.ID).
			Int("cap", m.snapshotCap).
			Msg("snapshot cap reached; further mutations in this task are not undoable")
	}
	return true
}

// TaskEnd closes the open task and atomically appends it to the history
// store.
func (m *Manager) TaskEnd() (*Task, error) {
	if m.active == nil {
		return nil, ErrNoTask
	}

	task := m.active
	task.Status = TaskClosed
	task.ClosedAt = time.Now()
	m.active = nil

	m.tasks[task.ID] = task
	m.taskOrder = append(m.taskOrder, task.ID)

	if m.session != nil && task.SessionID == m.session.ID {
		m.session.TaskIDs = append(m.session.TaskIDs, task.ID)
		m.session.TaskCount++
		m.session.SnapshotCount += len(task.Snapshots)
	}

	if err := m.persist(); err != nil {
		return nil, err
	}

	if task.Truncated {
		m.log.Warn().Str("task_id", task.ID).Int("dropped", task.Dropped).Msg("task closed with dropped captures")
	}
	m.log.Debug().Str("task_id", task.ID).Int("snapshots", len(task.Snapshots)).Int("created", len(task.Created)).Msg("task closed")

	if m.bus != nil {
		m.bus.PublishTaskClosed(eventbus.TaskClosedPayload{
			TaskID:    task.ID,
			Label:     task.Label,
			Snapshots: len(task.Snapshots),
			Truncated: task.Truncated,
		})
	}
	return task, nil
}

// TaskUndo restores every snapshotted target to its captured state, in
// reverse-of-capture order, and destroys every created entity. Best
// effort: per-target failures are logged, skipped, and reported. A second
// undo of the same task is a benign no-op.
func (m *Manager) TaskUndo(ctx context.Context, taskID string) (UndoReport, error) {
	task, ok := m.tasks[taskID]
	if !ok {
		if m.active != nil && m.active.ID == taskID {
			return UndoReport{}, fmt.Errorf("%w: close the task before undoing it", ErrTaskOpen)
		}
		return UndoReport{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	report := UndoReport{TaskID: task.ID}
	if task.Status == TaskUndone {
		m.log.Debug().Str("task_id", task.ID).Msg("task already undone; no-op")
		return report, nil
	}

	task.Forward = nil
	now := time.Now()

	// Created entities go first, newest first. Their current state is
	// captured into forward snapshots so redo can resurrect them.
	for i := len(task.Created) - 1; i >= 0; i-- {
		rec := task.Created[i]
		m.captureForward(ctx, task, rec.TargetID, now)

		err := m.host.DestroyEntity(ctx, rec.TargetID)
		switch {
		case err == nil:
			report.Destroyed++
		case errors.Is(err, host.ErrEntityNotFound):
			// Already gone; nothing to destroy.
			m.log.Debug().Str("target", rec.TargetID).Msg("created entity already absent")
		default:
			m.log.Warn().Str("task_id", task.ID).Str("target", rec.TargetID).Err(err).Msg("undo: destroy failed")
			report.Failed = append(report.Failed, rec.TargetID)
		}
	}

	// Snapshots unwind newest first so later dependent mutations revert
	// before the states they were built on.
	for i := len(task.Snapshots) - 1; i >= 0; i-- {
		snap := task.Snapshots[i]
		if task.hasCreated(snap.TargetID) {
			// The entity did not exist before this task; destruction wins.
			continue
		}
		m.captureForward(ctx, task, snap.TargetID, now)

		if err := m.host.RestoreState(ctx, snap.TargetID, snap.Kind, snap.State); err != nil {
			m.log.Warn().Str("task_id", task.ID).Str("target", snap.TargetID).Err(err).Msg("undo: restore failed")
			report.Failed = append(report.Failed, snap.TargetID)
			continue
		}
		report.Restored++
	}

	task.Status = TaskUndone
	m.undone = append(m.undone, task.ID)

	if err := m.persist(); err != nil {
		return report, err
	}

	m.log.Info().
		Str("task_id", task.ID).
		Int("restored", report.Restored).
		Int("destroyed", report.Destroyed).
		Int("failed", len(report.Failed)).
		Msg("task undone")

	if m.bus != nil {
		m.bus.PublishTaskUndone(eventbus.TaskUndonePayload{
			TaskID:    task.ID,
			Restored:  report.Restored,
			Failed:    len(report.Failed),
			Destroyed: report.Destroyed,
		})
	}
	return report, nil
}

// captureForward records the target's current (post-mutation) state so
// redo can reapply it. Capture failures are tolerated: the target may
// legitimately be gone.
func (m *Manager) captureForward(ctx context.Context, task *Task, targetID string, now time.Time) {
	for _, f := range task.Forward {
		if f.TargetID == targetID {
			return
		}
	}
	kind, state, err := m.host.CaptureState(ctx, targetID)
	if err != nil {
		m.log.Debug().Str("target", targetID).Err(err).Msg("forward capture skipped")
		return
	}
	task.Forward = append(task.Forward, Snapshot{TargetID: targetID, Kind: kind, State: state, CapturedAt: now})
}

// TaskRedo re-applies an undone task by restoring its forward snapshots
// with upsert semantics, recreating entities the undo destroyed. An empty
// taskID redoes the most recently undone task.
func (m *Manager) TaskRedo(ctx context.Context, taskID string) (UndoReport, error) {
	if taskID == "" {
		if len(m.undone) == 0 {
			return UndoReport{}, ErrNothingToRedo
		}
		taskID = m.undone[len(m.undone)-1]
	}

	task, ok := m.tasks[taskID]
	if !ok {
		return UndoReport{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskUndone {
		return UndoReport{}, fmt.Errorf("%w: task %s is not undone", ErrNothingToRedo, taskID)
	}

	report := UndoReport{TaskID: task.ID}

	// Forward snapshots were captured in undo order (newest mutation
	// first); replay them in reverse to re-apply oldest first.
	for i := len(task.Forward) - 1; i >= 0; i-- {
		snap := task.Forward[i]
		if err := m.host.RestoreState(ctx, snap.TargetID, snap.Kind, snap.State); err != nil {
			m.log.Warn().Str("task_id", task.ID).Str("target", snap.TargetID).Err(err).Msg("redo: restore failed")
			report.Failed = append(report.Failed, snap.TargetID)
			continue
		}
		report.Restored++
	}

	task.Status = TaskClosed
	task.Forward = nil
	m.removeUndone(task.ID)

	if err := m.persist(); err != nil {
		return report, err
	}

	m.log.Info().Str("task_id", task.ID).Int("restored", report.Restored).Msg("task redone")
	return report, nil
}

func (m *Manager) removeUndone(taskID string) {
	for i := len(m.undone) - 1; i >= 0; i-- {
		if m.undone[i] == taskID {
			m.undone = append(m.undone[:i], m.undone[i+1:]...)
			return
		}
	}
}

// SessionUndoReport aggregates the per-task reports of a session undo.
type SessionUndoReport struct {
	SessionID string       `json:"session_id"`
	Tasks     []UndoReport `json:"tasks"`
}

// SessionUndo undoes a session's tasks in reverse chronological order. An
// empty sessionID targets the recording session, falling back to the most
// recently committed one.
func (m *Manager) SessionUndo(ctx context.Context, sessionID string) (SessionUndoReport, error) {
	sess, err := m.resolveSession(sessionID)
	if err != nil {
		return SessionUndoReport{}, err
	}

	report := SessionUndoReport{SessionID: sess.ID}
	for i := len(sess.TaskIDs) - 1; i >= 0; i-- {
		taskReport, err := m.TaskUndo(ctx, sess.TaskIDs[i])
		if err != nil {
			return report, fmt.Errorf("undo task %s: %w", sess.TaskIDs[i], err)
		}
		report.Tasks = append(report.Tasks, taskReport)
	}

	m.log.Info().Str("session_id", sess.ID).Int("tasks", len(report.Tasks)).Msg("session undone")
	return report, nil
}

func (m *Manager) resolveSession(sessionID string) (*Session, error) {
	if sessionID != "" {
		sess, ok := m.sessions[sessionID]
		if !ok {
			if m.session != nil && m.session.ID == sessionID {
				return m.session, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return sess, nil
	}

	if m.session != nil {
		return m.session, nil
	}
	if len(m.sessionOrder) == 0 {
		return nil, ErrNoSession
	}
	return m.sessions[m.sessionOrder[len(m.sessionOrder)-1]], nil
}

// persist rewrites the whole committed document atomically.
func (m *Manager) persist() error {
	doc := historyDocument{}
	for _, id := range m.taskOrder {
		doc.Tasks = append(doc.Tasks, m.tasks[id])
	}
	for _, id := range m.sessionOrder {
		doc.Sessions = append(doc.Sessions, m.sessions[id])
	}

	if err := m.store.Save(doc); err != nil {
		m.log.Error().Err(err).Msg("history persist failed")
		return err
	}
	return nil
}
