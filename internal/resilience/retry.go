// Package resilience provides the retry and circuit-breaking policies shared
// by the broker client and the reply generation engine.
package resilience

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNonRetryable marks errors that retrying cannot fix (auth failures,
// rate limits). Policies stop immediately when they see it.
var ErrNonRetryable = errors.New("non-retryable")

// RetryPolicy controls how failed operations are retried with exponential
// backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the policy used for inference calls:
// 3 attempts, 1s initial delay, 2x multiplier, 4s cap.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     4 * time.Second,
	}
}

// PublishRetryPolicy returns the policy used for broker publishes:
// 3 attempts, 500ms initial delay, 2x multiplier, 2s cap.
func PublishRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
	}
}

// NextDelay returns the backoff delay for the given attempt number
// (1-indexed). The delay is InitialDelay * Multiplier^(attempt-1), capped at
// MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries with
// exponential backoff. It stops early when the context is cancelled or fn
// returns an error wrapping ErrNonRetryable. Returns nil on success or the
// last error otherwise.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrNonRetryable) {
			return err
		}
		if attempt < p.MaxAttempts {
			select {
			case <-time.After(p.NextDelay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Backoff computes an unbounded-attempt reconnect delay: base * mult^n
// capped at max. Used by the broker client, whose reconnect loop is not
// attempt-limited the way Execute is.
func Backoff(base time.Duration, mult float64, attempt int, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(mult, float64(attempt))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
