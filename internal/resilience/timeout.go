package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCallTimeout = errors.New("call timed out")
	ErrCallPanic   = errors.New("call panicked")
)

// WithTimeout runs fn under a deadline of d. The caller gets control back
// when d elapses even if fn ignores its context; fn's late result is dropped.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: %v", ErrCallPanic, r)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrCallTimeout, d)
		}
		return zero, ctx.Err()
	}
}
