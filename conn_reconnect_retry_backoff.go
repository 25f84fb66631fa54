package realtime

import (
	"math"
	"time"
)

// BackoffCalculator returns the wait before reconnect attempt number attempts (1-indexed).
type BackoffCalculator func(attempts int) time.Duration

// ExponentialBackoff yields base * 2^(attempts-1), i.e. base, 2*base, 4*base, ...
// A non-positive maxDelay leaves the schedule uncapped.
func ExponentialBackoff(base, maxDelay time.Duration) BackoffCalculator {
	return func(attempts int) time.Duration {
		if attempts < 1 {
			attempts = 1
		}
		factor := math.Pow(2.0, float64(attempts-1))
		delay := float64(base) * factor
		if maxDelay > 0 && delay > float64(maxDelay) {
			return maxDelay
		}
		if delay >= float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	}
}

// ReconnectPolicy decides whether another reconnect attempt is allowed and how long to wait
// before it. It holds no state; the attempt counter lives in ConnectionManager.
type ReconnectPolicy struct {
	MaxAttempts int
	calculator  BackoffCalculator
}

// NewReconnectPolicy builds a policy allowing maxAttempts retries. A negative maxAttempts
// allows none.
func NewReconnectPolicy(maxAttempts int, calculator BackoffCalculator) ReconnectPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return ReconnectPolicy{MaxAttempts: maxAttempts, calculator: calculator}
}

// Allow reports whether a further attempt is permitted after attempts have been made.
func (p ReconnectPolicy) Allow(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Delay returns the wait before attempt number attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	return p.calculator(attempt)
}
