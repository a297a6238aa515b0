// Package retry provides bounded retries with exponential backoff. It backs
// the best-effort side channels of the relay, where a transient failure is
// worth a few more attempts but never worth blocking on indefinitely.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int

	// RetryDelay is the delay before the second attempt; it doubles on
	// each further attempt.
	RetryDelay time.Duration
}

// Do runs fn until it succeeds, ctx is cancelled, or MaxRetries attempts
// have failed. The last failure is wrapped in the returned error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < cfg.MaxRetries-1 {
			delay := cfg.RetryDelay << uint(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
