package util

import (
	"context"
	"time"
)

// RetryLinear calls fn up to maxAttempts times with linear backoff: after
// the Nth failed attempt it sleeps N × step before trying again. It returns
// nil on the first successful call, or the last error if all attempts fail.
// Context cancellation is respected between attempts.
func RetryLinear(ctx context.Context, maxAttempts int, step time.Duration, fn func() error) error {
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * step):
			}
		}
	}

	return err
}
