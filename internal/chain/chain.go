// Package chain composes request-scoped processing stages with static types.
package chain

import "context"

// Step is one stage of a pipeline
type Step[I, O any] func(ctx context.Context, in I) (O, error)

// Then runs first and feeds its output to second. The first error stops the chain.
func Then[A, B, C any](first Step[A, B], second Step[B, C]) Step[A, C] {
	return func(ctx context.Context, in A) (C, error) {
		mid, err := first(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return second(ctx, mid)
	}
}

// Map lifts an infallible function into a Step
func Map[I, O any](fn func(I) O) Step[I, O] {
	return func(_ context.Context, in I) (O, error) {
		return fn(in), nil
	}
}
