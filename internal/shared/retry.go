package shared

import (
	"context"
	"log/slog"
	"time"
)

// RetryOnConflict runs fn, retrying with exponential backoff while it fails
// with a transient write conflict. Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !IsConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms, 200ms
		slog.Debug("Database locked, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
