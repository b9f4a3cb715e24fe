package storage

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// retryOnBusy re-runs f while it reports SQLITE_BUSY or SQLITE_LOCKED, using
// exponential backoff with bounded jitter on top of the driver's own
// busy_timeout. Non-busy errors and context cancellation end the loop
// immediately; the last busy error is returned once maxRetries is exhausted.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		// 50ms, 100ms, 200ms, 400ms, 500ms (capped), each with ±25% jitter.
		delay := retryBaseDelay << uint(attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		jitter := time.Duration(rand.Int63n(int64(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
