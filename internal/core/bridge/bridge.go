// Package bridge moves request jobs from arbitrary producer goroutines
// into the host's single mutation-capable execution context.
//
// Producers call Submit and block on a per-job completion signal. The
// consumer side is Drain, invoked by the host's own per-tick callback —
// never a dedicated goroutine — because the host's mutation surface is
// single-thread-affine.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/tether/internal/core/command"
	"github.com/colonyops/tether/internal/core/eventbus"
	"github.com/colonyops/tether/pkg/randid"
)

// ErrTimeout is returned to a producer whose wait exceeded the configured
// window. The dequeued job is not cancelled: if it already started it may
// finish later and its result is discarded. There is no cooperative
// cancellation token once a job is dequeued.
var ErrTimeout = errors.New("timed out waiting for execution")

// Executor resolves and runs one command. Satisfied by *command.Registry.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (command.Result, error)
}

type outcome struct {
	res command.Result
	err error
}

// Job is one in-flight invocation request. Created by a producer, consumed
// exactly once by the drain loop, then discarded.
type Job struct {
	ID      string
	Name    string
	Payload json.RawMessage

	// done carries the single completion signal. Buffered so the consumer
	// never blocks on a producer that already gave up.
	done     chan outcome
	enqueued time.Time
}

// Bridge is the producer/consumer hand-off queue. Strict FIFO; no
// priorities and no per-target serialization beyond queue order, which is
// sufficient while only the drain caller can touch host state.
type Bridge struct {
	log     zerolog.Logger
	exec    Executor
	bus     *eventbus.EventBus
	timeout time.Duration

	mu    sync.Mutex
	queue []*Job
}

// New creates a bridge. timeout bounds each producer's wait (not the
// handler's run time). bus may be nil.
func New(log zerolog.Logger, exec Executor, bus *eventbus.EventBus, timeout time.Duration) *Bridge {
	return &Bridge{
		log:     log.With().Str("component", "bridge").Logger(),
		exec:    exec,
		bus:     bus,
		timeout: timeout,
	}
}

// QueueDepth reports how many jobs are waiting to be drained.
func (b *Bridge) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Submit enqueues a job and blocks until the consumer signals completion,
// the configured timeout elapses, or ctx is cancelled.
func (b *Bridge) Submit(ctx context.Context, name string, payload json.RawMessage) (command.Result, error) {
	job := &Job{
		ID:       randid.Generate(8),
		Name:     name,
		Payload:  payload,
		done:     make(chan outcome, 1),
		enqueued: time.Now(),
	}

	b.mu.Lock()
	b.queue = append(b.queue, job)
	depth := len(b.queue)
	b.mu.Unlock()

	b.log.Debug().Str("job_id", job.ID).Str("command", name).Int("queue_depth", depth).Msg("job enqueued")

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case out := <-job.done:
		return out.res, out.err
	case <-timer.C:
		b.remove(job)
		b.log.Warn().Str("job_id", job.ID).Str("command", name).Dur("waited", time.Since(job.enqueued)).Msg("producer wait timed out")
		return command.Result{}, ErrTimeout
	case <-ctx.Done():
		b.remove(job)
		return command.Result{}, ctx.Err()
	}
}

// remove drops a job from the queue if it has not been dequeued yet. A job
// already claimed by Drain keeps running; its late result lands in the
// buffered channel and is discarded with the job.
func (b *Bridge) remove(job *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, j := range b.queue {
		if j == job {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

// Drain executes queued jobs from the host's tick callback and returns the
// number of jobs run. It takes only the jobs queued at entry, bounded by
// max, so a flood of submissions cannot starve the host's own work.
func (b *Bridge) Drain(ctx context.Context, max int) int {
	b.mu.Lock()
	n := len(b.queue)
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		b.mu.Unlock()
		return 0
	}
	jobs := make([]*Job, n)
	copy(jobs, b.queue[:n])
	b.queue = b.queue[n:]
	b.mu.Unlock()

	for _, job := range jobs {
		b.run(ctx, job)
	}

	return n
}

func (b *Bridge) run(ctx context.Context, job *Job) {
	started := time.Now()
	res, err := b.exec.Execute(ctx, job.Name, job.Payload)
	elapsed := time.Since(started)

	status := res.Status
	if err != nil {
		status = "rejected"
	}

	b.log.Debug().
		Str("job_id", job.ID).
		Str("command", job.Name).
		Str("status", status).
		Dur("elapsed", elapsed).
		Msg("job executed")

	if b.bus != nil {
		b.bus.PublishJobExecuted(eventbus.JobExecutedPayload{
			Command:  job.Name,
			Status:   status,
			Duration: elapsed,
		})
	}

	// Exactly one signal per job. The buffer guarantees this send never
	// blocks even when the producer stopped listening.
	job.done <- outcome{res: res, err: err}
}
