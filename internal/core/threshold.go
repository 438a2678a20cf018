package core

import (
	"context"
	"math/rand"
	"time"
)

// shouldTrip evaluates the sliding-window trip policy of spec.md §4.3
// against the current window contents in b.store. Called only while
// Closed; HalfOpen trips unconditionally on the first failure (handled
// directly in recordFailure).
func (b *Breaker) shouldTrip(ctx context.Context) bool {
	switch b.cfg.ThresholdMode {
	case Absolute:
		failures, err := b.store.FailureCount(ctx, b.name, b.cfg.FailureWindow)
		if err != nil {
			return false
		}
		return failures >= b.cfg.FailureThreshold
	case Rate:
		failures, err := b.store.FailureCount(ctx, b.name, b.cfg.FailureWindow)
		if err != nil {
			return false
		}
		successes, err := b.store.SuccessCount(ctx, b.name, b.cfg.FailureWindow)
		if err != nil {
			return false
		}
		total := failures + successes
		if total < b.cfg.MinimumCalls {
			return false
		}
		rate := float64(failures) / float64(total)
		return rate >= b.cfg.FailureRate
	default:
		return false
	}
}

// checkTrip runs the trip policy and, if it fires, transitions to Open.
func (b *Breaker) checkTrip(ctx context.Context) {
	if b.shouldTrip(ctx) {
		b.trip(ctx)
	}
}

// effectiveResetTimeout applies jitter to Config.ResetTimeout, per
// spec.md §4.1: effective = ResetTimeout * (1 - j + r*j), r uniform in
// [0, 1).
func (b *Breaker) effectiveResetTimeout() time.Duration {
	j := b.cfg.JitterFactor
	if j <= 0 {
		return b.cfg.ResetTimeout
	}
	r := rand.Float64()
	factor := 1 - j + r*j
	return time.Duration(float64(b.cfg.ResetTimeout) * factor)
}
