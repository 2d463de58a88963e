package resilience

import (
	"sync"
	"time"
)

// CircuitBreaker counts consecutive upstream failures and trips the call
// path once a threshold is reached. The counter resets itself after a
// cool-down window regardless of traffic, mirroring a periodic reset rather
// than a half-open probe. Process-wide, safe for concurrent use.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	resetAt   time.Time

	now func() time.Time // test hook
}

// NewCircuitBreaker creates a breaker that opens after threshold failures
// and self-heals after cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. When the cool-down window has
// elapsed the counter is cleared first, so a previously open breaker lets
// the next call through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeReset()
	return b.failures < b.threshold
}

// RecordFailure increments the failure counter and starts the cool-down
// clock on the first failure of a window.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeReset()
	if b.failures == 0 {
		b.resetAt = b.now().Add(b.cooldown)
	}
	b.failures++
}

// Failures returns the current consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeReset()
	return b.failures
}

func (b *CircuitBreaker) maybeReset() {
	if b.failures > 0 && !b.resetAt.IsZero() && b.now().After(b.resetAt) {
		b.failures = 0
		b.resetAt = time.Time{}
	}
}
