package subscriber

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 5, time.Millisecond, 4*time.Millisecond, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("dial refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryReturnsLastError(t *testing.T) {
	last := errors.New("attempt 2")
	err := withRetry(context.Background(), 2, time.Millisecond, time.Millisecond, func(_ context.Context, attempt int) error {
		if attempt == 2 {
			return last
		}
		return errors.New("attempt 1")
	})
	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, 3, time.Second, time.Second, func(context.Context, int) error {
		t.Fatalf("fn must not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
