// Package retry provides an explicit retry policy for fallible remote calls.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how an operation is retried after failure.
//
// An operation is attempted up to MaxAttempts times. After a failed attempt n
// (1-based) the policy sleeps for Backoff(n) before the next attempt, unless
// the context is done or Retryable reports the error as permanent.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff returns the pause before the attempt following failed attempt n.
	Backoff func(attempt int) time.Duration

	// Retryable reports whether an error is worth retrying. Nil means all
	// errors are retryable.
	Retryable func(error) bool

	// Sleep is overridable for tests. Nil uses a context-aware time.After wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns a backoff of base doubled per attempt: attempt 1 waits
// 2*base, attempt 2 waits 4*base, attempt 3 waits 8*base.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << uint(attempt)
	}
}

// Fixed returns a constant backoff regardless of attempt number.
func Fixed(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do runs op under the policy. It returns nil on the first success, the
// wrapped last error once attempts are exhausted, a permanent error as soon
// as Retryable rejects it, and the context error if the wait is interrupted.
func (p Policy) Do(ctx context.Context, name string, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return fmt.Errorf("%s failed (permanent): %w", name, lastErr)
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return fmt.Errorf("%s canceled: %w", name, err)
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
