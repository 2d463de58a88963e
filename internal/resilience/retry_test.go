package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
	}

	for _, tc := range cases {
		if got := p.NextDelay(tc.attempt); got != tc.want {
			t.Errorf("NextDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryPolicy_ExecuteSucceedsAfterFailures(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicy_ExecuteStopsOnNonRetryable(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	calls := 0
	err := p.Execute(context.Background(), func(attempt int) error {
		calls++
		return fmt.Errorf("auth rejected: %w", ErrNonRetryable)
	})
	if !errors.Is(err, ErrNonRetryable) {
		t.Fatalf("expected ErrNonRetryable, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryPolicy_ExecuteRespectsContext(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, func(attempt int) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryPolicy_ExecuteReturnsLastError(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond}

	err := p.Execute(context.Background(), func(attempt int) error {
		return fmt.Errorf("attempt %d failed", attempt)
	})
	if err == nil || err.Error() != "attempt 2 failed" {
		t.Errorf("expected last error, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	if got := Backoff(2*time.Second, 1.5, 0, 30*time.Second); got != 2*time.Second {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := Backoff(2*time.Second, 1.5, 1, 30*time.Second); got != 3*time.Second {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := Backoff(2*time.Second, 1.5, 20, 30*time.Second); got != 30*time.Second {
		t.Errorf("attempt 20 should cap: got %v", got)
	}
}
