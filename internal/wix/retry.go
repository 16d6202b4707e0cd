package wix

import (
	"context"
	"time"
)

// RetryPolicy retries idempotent calls with linear backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs fn until it succeeds, the retries are exhausted, or ctx is done.
// Client errors (4xx) are returned immediately.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if apiErr, ok := AsAPIError(err); ok && !apiErr.IsServerError() {
			return err
		}
		if i == r.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.BaseDelay * time.Duration(i+1)):
		}
	}
	return err
}
