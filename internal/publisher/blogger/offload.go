package blogger

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// offloader runs blocking SDK calls on their own goroutines, at most n at a
// time. A caller whose context ends stops waiting; the call itself finishes
// in the background and releases its slot.
type offloader struct {
	sem *semaphore.Weighted
}

func newOffloader(n int) *offloader {
	if n <= 0 {
		n = 1
	}
	return &offloader{sem: semaphore.NewWeighted(int64(n))}
}

type outcome[T any] struct {
	val T
	err error
}

func offload[T any](ctx context.Context, o *offloader, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	done := make(chan outcome[T], 1)
	go func() {
		defer o.sem.Release(1)
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.val, r.err
	}
}
