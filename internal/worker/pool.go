// Package worker runs blocking calls on a bounded set of goroutines so the
// tick loop only ever waits on a result, never on a free slot it holds itself.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many submitted calls run at once.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a pool with size slots. size < 1 is treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn on a pool slot and waits for it to finish.
//
// If ctx ends first Do returns ctx.Err(); fn keeps its slot until it returns
// on its own (bounded by whatever timeout fn's I/O carries).
func Do[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	done := make(chan result[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
