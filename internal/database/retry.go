package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Retry policy for store calls: a small fixed number of attempts with
// exponential backoff. Only transient failures are retried; definitive
// outcomes (no rows, context canceled) are returned immediately so
// business "not found" results are never delayed by backoff.
const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// WithRetry runs fn up to retryAttempts times, sleeping with exponential
// backoff between failed attempts. The last error is returned when all
// attempts fail.
func WithRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
	}
	return err
}

// Retryable reports whether an error is worth retrying. sql.ErrNoRows is
// a definitive answer, and a canceled or expired context will not
// recover on its own.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
