package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(5, 5*time.Minute)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures, threshold is 5", i+1)
		}
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker should be open after 5 failures")
	}
}

func TestCircuitBreaker_SelfHealsAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(5, 5*time.Minute)

	current := time.Now()
	b.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	// Advance past the cool-down window; the next check should pass.
	current = current.Add(5*time.Minute + time.Second)
	if !b.Allow() {
		t.Error("breaker should self-heal after cool-down")
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("failure count after heal = %d, want 0", got)
	}
}

func TestCircuitBreaker_FailuresWithinWindowAccumulate(t *testing.T) {
	b := NewCircuitBreaker(5, 5*time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if got := b.Failures(); got != 2 {
		t.Errorf("failure count = %d, want 2", got)
	}
}
