package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrLockTimeout = errors.New("lock acquire timed out")

// Lock is a mutex whose acquisition is bounded by a timeout.
type Lock struct {
	name string
	sem  *semaphore.Weighted
}

func NewLock(name string) *Lock {
	return &Lock{name: name, sem: semaphore.NewWeighted(1)}
}

func (l *Lock) Name() string { return l.name }

// Acquire blocks until the lock is held, timeout elapses, or ctx is done.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.sem.TryAcquire(1) {
		return nil
	}
	if timeout <= 0 {
		return fmt.Errorf("%s: %w", l.name, ErrLockTimeout)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := l.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", l.name, ErrLockTimeout)
	}
	return nil
}

func (l *Lock) Release() {
	l.sem.Release(1)
}

// Do runs fn while holding the lock and releases it as soon as fn returns.
func (l *Lock) Do(ctx context.Context, timeout time.Duration, fn func() error) error {
	if err := l.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
