package shared

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrQueueFull = errors.New("queue full")

// Queue is a bounded FIFO shared between tasks. Senders give up after a
// timeout instead of blocking indefinitely.
type Queue[T any] struct {
	name string
	ch   chan T
}

func NewQueue[T any](name string, capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue %s: capacity must be positive, got %d", name, capacity)
	}
	return &Queue[T]{name: name, ch: make(chan T, capacity)}, nil
}

// Send enqueues item, waiting at most timeout for space.
func (q *Queue[T]) Send(ctx context.Context, item T, timeout time.Duration) error {
	select {
	case q.ch <- item:
		return nil
	default:
	}
	if timeout <= 0 {
		return fmt.Errorf("%s: %w", q.name, ErrQueueFull)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- item:
		return nil
	case <-t.C:
		return fmt.Errorf("%s: %w", q.name, ErrQueueFull)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues the oldest item, waiting at most timeout. The bool is
// false when nothing arrived.
func (q *Queue[T]) Receive(ctx context.Context, timeout time.Duration) (T, bool) {
	var zero T
	select {
	case item := <-q.ch:
		return item, true
	default:
	}
	if timeout <= 0 {
		return zero, false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case item := <-q.ch:
		return item, true
	case <-t.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }

func (q *Queue[T]) Name() string { return q.name }
