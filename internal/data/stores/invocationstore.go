// Package stores contains the SQLite-backed persistence for tether's
// audit data.
package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/tether/internal/data/db"
)

// Invocation is one audited command execution.
type Invocation struct {
	ID        int64         `json:"id"`
	Command   string        `json:"command"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	InvokedAt time.Time     `json:"invoked_at"`
}

// InvocationStore persists the command audit log.
type InvocationStore struct {
	db *db.DB
}

// NewInvocationStore creates a SQLite-backed invocation store.
func NewInvocationStore(db *db.DB) *InvocationStore {
	return &InvocationStore{db: db}
}

// Record appends one invocation.
func (s *InvocationStore) Record(ctx context.Context, inv Invocation) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO invocations (command, status, error, duration_ns, invoked_at)
		VALUES (?, ?, ?, ?, ?)`,
		inv.Command, inv.Status, nullable(inv.Error), int64(inv.Duration), inv.InvokedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}

// List returns the most recent invocations, newest first. command filters
// by exact name when non-empty.
func (s *InvocationStore) List(ctx context.Context, command string, limit int) ([]Invocation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, command, status, COALESCE(error, ''), duration_ns, invoked_at
		FROM invocations`
	args := []any{}
	if command != "" {
		query += ` WHERE command = ?`
		args = append(args, command)
	}
	query += ` ORDER BY invoked_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var durationNS, invokedAt int64
		if err := rows.Scan(&inv.ID, &inv.Command, &inv.Status, &inv.Error, &durationNS, &invokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		inv.Duration = time.Duration(durationNS)
		inv.InvokedAt = time.Unix(0, invokedAt)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// Prune deletes invocations older than the cutoff and returns how many
// rows went away.
func (s *InvocationStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM invocations WHERE invoked_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune invocations: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
