package util

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. It returns nil on the first successful call, or the last
// error if all attempts fail. Cancellation is observed between retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}

// RetryLinear calls fn up to maxAttempts times with linearly increasing
// backoff: baseDelay, 2*baseDelay, 3*baseDelay, ... Used for the per-symbol
// download budget where exponential growth would stall the batch.
func RetryLinear(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * baseDelay):
			}
		}
	}

	return err
}

// Jitter returns a random duration in [min, max]. Used for pre-request
// pacing so bursts don't line up with upstream rate windows.
func Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}

// Sleep blocks for d or until ctx is cancelled, returning ctx.Err() in the
// latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
