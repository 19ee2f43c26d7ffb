package queue

import (
	"context"
	"sync"
)

// Handle is the caller's view of one queued task.
type Handle[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newHandle[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

func (h *Handle[T]) settle(v T, err error) {
	h.once.Do(func() {
		h.value = v
		h.err = err
		close(h.done)
	})
}

// Done is closed once the task has settled.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task settles or ctx ends. Giving up on the wait
// does not cancel the task. A task that has already settled reports its own
// outcome even when ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	default:
	}

	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
