package task

import (
	"context"
	"time"

	"github.com/reviewdeck/core/internal/apperr"
)

// Queue is the Task Queue (Q) of spec §2/§9: a bounded FIFO connecting the
// foreground push() call to the background worker goroutines. Per the Open
// Question resolution in SPEC_FULL.md §5, the cross-restart system of record
// is the tasks table itself (ENQUEUED rows survive a crash); this channel is
// only the in-process hand-off from an API goroutine to a worker goroutine
// within one server instance, not a durable store in its own right.
type Queue struct {
	ch chan []byte
}

// NewQueue creates a queue with the given bounded capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan []byte, capacity)}
}

// Push enqueues a serialized envelope, blocking up to deadline before
// failing with apperr.Backpressure, per spec §4.1 ("If Q is full, the call
// blocks up to a configured bound, then fails BackpressureExceeded").
func (q *Queue) Push(ctx context.Context, payload []byte, deadline time.Duration) error {
	if deadline <= 0 {
		select {
		case q.ch <- payload:
			return nil
		default:
			return apperr.Backpressuref("task queue is full")
		}
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case q.ch <- payload:
		return nil
	case <-timer.C:
		return apperr.Backpressuref("task queue is full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until a payload is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) ([]byte, bool) {
	select {
	case payload, ok := <-q.ch:
		return payload, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Depth reports the current number of queued-but-unpopped payloads, used by
// the /system/status operational endpoint.
func (q *Queue) Depth() int { return len(q.ch) }

// Capacity reports the queue's configured bound.
func (q *Queue) Capacity() int { return cap(q.ch) }
