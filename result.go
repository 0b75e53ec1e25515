package recache

import (
	"context"
	"sync"
)

// Result is the cached, replayable outcome of one write-through call. It
// settles exactly once; every Get observes the same value or error, and
// late callers replay the settled outcome without re-invoking the remote
// collaborator.
type Result[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// resolve settles the result. Calls after the first are no-ops.
func (r *Result[T]) resolve(v T, err error) {
	r.once.Do(func() {
		r.val = v
		r.err = err
		close(r.done)
	})
}

// Get blocks until the result settles or ctx is cancelled, whichever comes
// first. It can be called any number of times, from any goroutine.
func (r *Result[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the result has settled.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}
