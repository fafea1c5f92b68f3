package syncutil

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Enqueue and Dequeue after Close.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is an unbounded FIFO queue safe for concurrent producers. Enqueue
// never blocks and never rejects for capacity reasons; Dequeue blocks until an
// item arrives, the context is cancelled or the queue is closed. The queue is
// intended for a single consumer; items buffered at Close time are discarded.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs an empty unbounded queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue appends an item and returns immediately. The only failure mode is a
// closed queue.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the oldest item, blocking until one is
// available. It returns ctx.Err() on cancellation and ErrQueueClosed once the
// queue is closed. Cancellation wins over buffered items: once the context is
// observably done no further item is popped, so items enqueued after a cancel
// stay buffered for the next consumer run.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.wake:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes any blocked consumer. Buffered items
// are discarded. Closing twice returns an error.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("already closed")
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	close(q.done)
	return nil
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
