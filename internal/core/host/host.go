// Package host defines the mutation surface of the embedding application.
//
// The host is single-thread-affine: only the goroutine driving the tick
// loop may touch host state. Every other component reaches the host
// exclusively through the execution bridge's job queue, never by direct
// call.
package host

import (
	"context"
	"errors"
)

// ErrEntityNotFound is returned when an entity id does not resolve.
var ErrEntityNotFound = errors.New("entity not found")

// Host is the contract the undo engine and leaf handlers depend on.
type Host interface {
	// CaptureState serializes the current state of an entity. The payload
	// is opaque to callers and unbounded by design: fidelity for large
	// state wins over size here.
	CaptureState(ctx context.Context, id string) (kind string, state []byte, err error)

	// RestoreState applies a previously captured state. Upsert semantics:
	// if the entity no longer exists it is recreated, which is what makes
	// redo after a destructive undo possible.
	RestoreState(ctx context.Context, id, kind string, state []byte) error

	// DestroyEntity removes an entity outright.
	DestroyEntity(ctx context.Context, id string) error
}
