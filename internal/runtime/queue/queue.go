// Package queue implements the per-stream FIFO that sits between Emit and a
// stream worker. Producers never block; the single consumer waits with a
// timeout.
package queue

import (
	"sync"
	"time"

	eaqueue "github.com/eapache/queue"

	errspkg "github.com/drblury/logtower/internal/runtime/errors"
)

// Queue is a FIFO safe for many producers and one consumer. A zero capacity
// leaves it unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    *eaqueue.Queue
	capacity int
	ready    chan struct{}
}

// New returns an empty queue. capacity <= 0 means unbounded.
func New[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		items:    eaqueue.New(),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Put appends item, or returns ErrQueueFull when a bounded queue is at
// capacity.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	if q.capacity > 0 && q.items.Length() >= q.capacity {
		q.mu.Unlock()
		return errspkg.ErrQueueFull
	}
	q.items.Add(item)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Force appends item regardless of capacity. Control signals use it so that
// flush and close can never be refused.
func (q *Queue[T]) Force(item T) {
	q.mu.Lock()
	q.items.Add(item)
	q.mu.Unlock()
	q.wake()
}

// Get removes the oldest item, waiting up to timeout for one to arrive. The
// second result is false when the wait timed out.
func (q *Queue[T]) Get(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if item, ok := q.pop(); ok {
			return item, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.ready:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Length() == 0 {
		var zero T
		return zero, false
	}
	return q.items.Remove().(T), true
}

func (q *Queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
