package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_ReturnsResult(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Errorf("expected 7/nil, got %d/%v", v, err)
	}
}

func TestWithTimeout_DoesNotWaitForStuckCall(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) (int, error) {
		// ignores its context on purpose
		<-block
		return 1, nil
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("expected ErrCallTimeout, got: %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("caller blocked for %v", elapsed)
	}
}

func TestWithTimeout_CancelsCallContext(t *testing.T) {
	cancelled := make(chan struct{})
	WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(cancelled)
		return 0, ctx.Err()
	})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("call context was not cancelled")
	}
}

func TestWithTimeout_RecoversPanic(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("bad response")
	})
	if !errors.Is(err, ErrCallPanic) {
		t.Errorf("expected ErrCallPanic, got: %v", err)
	}
}
