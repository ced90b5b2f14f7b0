// Package queue implements the two-stage outbound command queue.
//
// Commands enter Queued at the tail. Flush moves the whole of Queued into
// InTransit as the batch for one outbound request. On delivery InTransit is
// cleared; on cancellation it is put back in front of Queued so that the
// next flush resends it in original order.
//
// Every command is in Queued, in InTransit, or in neither. Order is FIFO
// across the lifetime of the queue.
package queue

import (
	"errors"
	"slices"
	"sync"

	"github.com/pithecene-io/conduit/types"
)

// ErrNothingQueued is returned by Flush when there is nothing to send.
// An empty flush is a no-op, not a failure.
var ErrNothingQueued = errors.New("nothing queued")

// State is a point-in-time copy of both queue stages.
type State struct {
	Queued    []types.Command
	InTransit []types.Command
}

// Stats represents queue observability counters.
type Stats struct {
	// Enqueued is the total number of commands enqueued.
	Enqueued int64
	// Flushes is the number of non-empty flushes.
	Flushes int64
	// FlushedCommands is the total number of commands moved to InTransit.
	FlushedCommands int64
	// Delivered is the total number of in-transit commands cleared by MarkDelivered.
	Delivered int64
	// DeliveryMarks is the number of MarkDelivered calls, including ones
	// that found InTransit empty.
	DeliveryMarks int64
	// Resets is the number of Reset calls that restored at least one command.
	Resets int64
	// Superseded is the number of in-transit commands dropped by a flush
	// that found InTransit non-empty.
	Superseded int64
	// Notifications is the number of times the non-empty callback fired.
	Notifications int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithNotify sets the callback fired when the queue becomes non-empty.
// The callback runs on the enqueuing goroutine after the queue lock has
// been released, so it may call back into the queue.
func WithNotify(fn func()) Option {
	return func(q *Queue) { q.notify = fn }
}

// Queue is a two-stage FIFO command queue. Safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	queued    []types.Command
	inTransit []types.Command
	// notified is set when the callback has fired and not yet been
	// re-armed by Flush or Reset.
	notified bool
	notify   func()
	stats    *statsRecorder
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{stats: &statsRecorder{}}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends cmd to the tail of Queued.
// Fires the notification callback if it is armed.
func (q *Queue) Enqueue(cmd types.Command) {
	q.mu.Lock()
	q.queued = append(q.queued, cmd)
	q.stats.enqueued++
	fire := q.notify != nil && !q.notified
	if fire {
		q.notified = true
		q.stats.notifications++
	}
	q.mu.Unlock()

	if fire {
		q.notify()
	}
}

// Flush moves all of Queued into InTransit and returns the batch.
// Returns ErrNothingQueued if Queued is empty; InTransit is untouched
// in that case.
//
// Flush must not be called while a previous batch is still outstanding.
// If InTransit is non-empty it is replaced wholesale and the stale
// commands are counted in Stats.Superseded.
func (q *Queue) Flush() ([]types.Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notified = false
	if len(q.queued) == 0 {
		return nil, ErrNothingQueued
	}

	q.stats.superseded += int64(len(q.inTransit))
	q.inTransit = q.queued
	q.queued = nil
	q.stats.flushes++
	q.stats.flushedCommands += int64(len(q.inTransit))

	return slices.Clone(q.inTransit), nil
}

// MarkDelivered clears InTransit. Idempotent.
func (q *Queue) MarkDelivered() {
	q.mu.Lock()
	q.stats.delivered += int64(len(q.inTransit))
	q.stats.deliveryMarks++
	q.inTransit = nil
	q.mu.Unlock()
}

// Reset puts InTransit back in front of Queued, preserving order,
// and clears InTransit.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.notified = false
	if len(q.inTransit) == 0 {
		return
	}
	restored := make([]types.Command, 0, len(q.inTransit)+len(q.queued))
	restored = append(restored, q.inTransit...)
	restored = append(restored, q.queued...)
	q.queued = restored
	q.inTransit = nil
	q.stats.resets++
}

// PendingCommands returns InTransit followed by Queued.
func (q *Queue) PendingCommands() []types.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]types.Command, 0, len(q.inTransit)+len(q.queued))
	out = append(out, q.inTransit...)
	return append(out, q.queued...)
}

// InTransit returns a copy of the commands currently in flight.
func (q *Queue) InTransit() []types.Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.inTransit)
}

// Len returns the total number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inTransit) + len(q.queued)
}

// State returns a copy of both stages.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return State{
		Queued:    slices.Clone(q.queued),
		InTransit: slices.Clone(q.inTransit),
	}
}

// Stats returns a consistent snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.snapshotLocked()
}
