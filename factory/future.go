package factory

import "context"

// Future is the pending outcome of an asynchronous build or create.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func spawn[T any](fn func() (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(fut.done)
		fut.val, fut.err = fn()
	}()
	return fut
}

// Done is closed once the outcome is available.
func (fut *Future[T]) Done() <-chan struct{} {
	return fut.done
}

// Wait blocks until the outcome is available or ctx is done.
func (fut *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-fut.done:
		return fut.val, fut.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (fut *Future[T]) then(fn func(T, error)) {
	go func() {
		<-fut.done
		fn(fut.val, fut.err)
	}()
}
