// Package future models the deferred-result abstraction the design
// notes call for: a typed completion handle with exactly-once
// resolution and cancellation.
package future

import (
	"context"
	"sync"

	"github.com/roboswarm/satellite/internal/errs"
)

// Future is a one-shot completion slot for a value of type T. It may
// be resolved with a value, failed with an error, or cancelled;
// exactly one of those may happen, exactly once.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future successfully. Calls after the first are
// no-ops.
func (f *Future[T]) Resolve(v T) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

// Fail completes the future with an error. Calls after the first
// resolution (success, failure, or cancellation) are no-ops.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Cancel fails the future with errs.Cancelled.
func (f *Future[T]) Cancel() {
	f.Fail(errs.New(errs.Cancelled, "future cancelled"))
}

// Wait blocks until the future resolves, fails, or ctx is done,
// whichever comes first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future has resolved,
// failed, or been cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
