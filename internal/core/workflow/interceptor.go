package workflow

import (
	"context"

	"github.com/colonyops/tether/internal/core/command"
)

// AutoTrack returns an interceptor that makes every mutating command
// undoable. Commands declare the parameter naming their target via
// Descriptor.Mutates; read-only commands pass through untouched.
//
// If a task is already open the target is snapshotted into it. Otherwise
// the interceptor brackets the handler in an implicit single-command task,
// so a bare mutation outside any explicit task is still reversible.
func AutoTrack(mgr *Manager) command.Interceptor {
	return func(desc command.Descriptor, next command.Handler) command.Handler {
		if desc.Mutates == "" {
			return next
		}

		return func(ctx context.Context, args command.Args) (any, error) {
			target := args.String(desc.Mutates)

			if mgr.ActiveTask() != nil {
				mgr.SnapshotObject(ctx, target)
				return next(ctx, args)
			}

			if _, err := mgr.TaskStart(desc.Name, "auto-tracked"); err != nil {
				// Run untracked rather than fail the command outright.
				mgr.log.Warn().Str("command", desc.Name).Err(err).Msg("auto-track: implicit task start failed")
				return next(ctx, args)
			}
			mgr.SnapshotObject(ctx, target)

			out, err := next(ctx, args)

			// The task commits even when the handler failed: a partial
			// mutation is exactly what undo exists to revert.
			if _, endErr := mgr.TaskEnd(); endErr != nil {
				mgr.log.Error().Str("command", desc.Name).Err(endErr).Msg("auto-track: implicit task end failed")
			}
			return out, err
		}
	}
}
