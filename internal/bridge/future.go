package bridge

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle tracks a task started with CreateTask.
type Handle struct {
	id     uuid.UUID
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID returns the task ID.
func (h *Handle) ID() uuid.UUID { return h.id }

// Name returns the name given at creation.
func (h *Handle) Name() string { return h.name }

// Cancel cancels the task's context. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Future is the pending result of a task started with RunAsync.
type Future struct {
	Handle
	val any
}

// Wait blocks until the task returns or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result waits up to timeout for the task. It returns ErrTimeout if the
// task is still running.
func (f *Future) Result(timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}
