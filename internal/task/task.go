// Package task runs side work on its own goroutine behind an explicit handle.
//
// The caller either waits for the result or detaches, in which case a failure
// is only logged.
package task

import (
	"context"
	"fmt"

	"github.com/oshokin/apk-patcher/internal/logger"
)

// Handle is a running unit of side work.
type Handle[T any] struct {
	name  string
	done  chan struct{}
	value T
	err   error
}

// Go starts fn on a new goroutine. A panic inside fn becomes the task error.
func Go[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) *Handle[T] {
	h := &Handle[T]{name: name, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()

		h.value, h.err = fn(ctx)
	}()

	return h
}

// Name returns the task name.
func (h *Handle[T]) Name() string {
	return h.name
}

// Done is closed when the task finishes.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Detach stops caring about the result; a failure is logged as a warning.
func (h *Handle[T]) Detach(ctx context.Context) {
	go func() {
		<-h.done

		if h.err != nil {
			logger.WarnKV(ctx, "Background task failed", "task", h.name, "error", h.err)
		}
	}()
}

// WaitLogged waits like Wait and logs a failure instead of returning it.
// It reports whether the task succeeded.
func (h *Handle[T]) WaitLogged(ctx context.Context) bool {
	if _, err := h.Wait(ctx); err != nil {
		logger.WarnKV(ctx, "Task failed", "task", h.name, "error", err)
		return false
	}

	return true
}
