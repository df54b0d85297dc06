// Package retry runs an operation a bounded number of times.
//
// Device command helpers use it in place of retry-by-recursion: every call
// has an explicit attempt budget and returns either nil or an error that
// wraps ErrExhausted together with the last failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is wrapped by Do when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// NonRetryableError wraps errors that should not be retried.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Policy bounds a retry loop.
type Policy struct {
	// Retries is the number of additional attempts after the first.
	Retries int
	// Delay is the pause between attempts.
	Delay time.Duration
}

// Attempts returns the total number of tries the policy allows.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is cancelled, or the policy's attempts are used up.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	attempts := p.Attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
			case <-time.After(p.Delay):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
