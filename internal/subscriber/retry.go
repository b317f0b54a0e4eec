package subscriber

import (
	"context"
	"time"
)

// withRetry calls fn up to attempts times, doubling the delay between calls up
// to maxDelay. It returns the last error when every attempt fails.
func withRetry(ctx context.Context, attempts int, baseDelay, maxDelay time.Duration, fn func(ctx context.Context, attempt int) error) error {
	if attempts <= 0 {
		return nil
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}

	delay := baseDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return err
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
