// Package eventbus provides a typed publish/subscribe bus for
// cross-component lifecycle events inside tether. Publishing never blocks:
// events beyond the buffer are dropped and counted, because producers sit
// on the request path and must not stall behind a slow subscriber.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event names. Keep list sorted A-Z.
type Event string

const (
	EventInstanceRegistered Event = "instance.registered"
	EventJobExecuted        Event = "job.executed"
	EventTaskClosed         Event = "task.closed"
	EventTaskUndone         Event = "task.undone"
)

// JobExecutedPayload is emitted after the bridge consumer finishes a job.
type JobExecutedPayload struct {
	Command  string
	Status   string
	Duration time.Duration
}

// TaskClosedPayload is emitted when a workflow task is closed and persisted.
type TaskClosedPayload struct {
	TaskID    string
	Label     string
	Snapshots int
	Truncated bool
}

// TaskUndonePayload is emitted after an undo pass over a task.
type TaskUndonePayload struct {
	TaskID    string
	Restored  int
	Failed    int
	Destroyed int
}

// InstanceRegisteredPayload is emitted when the discovery entry is written.
type InstanceRegisteredPayload struct {
	InstanceID string
	Port       int
}

type envelope struct {
	event   Event
	payload any
}

// EventBus fans events out to subscribers from a single dispatch
// goroutine, so subscriber callbacks never run on a producer's stack.
type EventBus struct {
	ch      chan envelope
	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[Event][]func(any)
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Run dispatches events until ctx is cancelled.
func (b *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.ch:
			b.dispatch(env)
		}
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *EventBus) dispatch(env envelope) {
	b.mu.RLock()
	handlers := b.subs[env.event]
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env.payload)
	}
}

func (b *EventBus) send(event Event, payload any) {
	select {
	case b.ch <- envelope{event: event, payload: payload}:
	default:
		b.dropped.Add(1)
	}
}

func (b *EventBus) subscribe(event Event, h func(any)) {
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], h)
	b.mu.Unlock()
}

// PublishJobExecuted publishes a job.executed event.
func (b *EventBus) PublishJobExecuted(p JobExecutedPayload) { b.send(EventJobExecuted, p) }

// SubscribeJobExecuted registers a handler for job.executed events.
func (b *EventBus) SubscribeJobExecuted(h func(JobExecutedPayload)) {
	b.subscribe(EventJobExecuted, func(v any) {
		if p, ok := v.(JobExecutedPayload); ok {
			h(p)
		}
	})
}

// PublishTaskClosed publishes a task.closed event.
func (b *EventBus) PublishTaskClosed(p TaskClosedPayload) { b.send(EventTaskClosed, p) }

// SubscribeTaskClosed registers a handler for task.closed events.
func (b *EventBus) SubscribeTaskClosed(h func(TaskClosedPayload)) {
	b.subscribe(EventTaskClosed, func(v any) {
		if p, ok := v.(TaskClosedPayload); ok {
			h(p)
		}
	})
}

// PublishTaskUndone publishes a task.undone event.
func (b *EventBus) PublishTaskUndone(p TaskUndonePayload) { b.send(EventTaskUndone, p) }

// SubscribeTaskUndone registers a handler for task.undone events.
func (b *EventBus) SubscribeTaskUndone(h func(TaskUndonePayload)) {
	b.subscribe(EventTaskUndone, func(v any) {
		if p, ok := v.(TaskUndonePayload); ok {
			h(p)
		}
	})
}

// PublishInstanceRegistered publishes an instance.registered event.
func (b *EventBus) PublishInstanceRegistered(p InstanceRegisteredPayload) {
	b.send(EventInstanceRegistered, p)
}

// SubscribeInstanceRegistered registers a handler for instance.registered events.
func (b *EventBus) SubscribeInstanceRegistered(h func(InstanceRegisteredPayload)) {
	b.subscribe(EventInstanceRegistered, func(v any) {
		if p, ok := v.(InstanceRegisteredPayload); ok {
			h(p)
		}
	})
}
