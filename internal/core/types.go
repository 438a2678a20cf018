// Package core implements the breaker state machine and protected call
// path of spec.md §4.1–§4.3: three primary states {Closed, Open,
// HalfOpen}, an absolute-or-rate sliding-window trip policy backed by a
// storage.Backend, a non-blocking bulkhead, and fallback routing. It is
// the teacher's own internal/breaker package generalized from a single
// consecutive-failure policy to the full dual-mode policy of §4.3. The
// engine's own transition and window math stays stdlib only, same as the
// teacher; storage.Backend and instrumentation.Emitter are imported
// directly as ordinary collaborators, so the domain stack (Redis, zap,
// Prometheus) is reachable through them without core redeclaring
// their types.
package core

import (
	"context"
	"errors"
	"time"
)

// State is the circuit breaker state (spec.md §4.1).
type State int32

const (
	// StateClosed admits all calls and counts outcomes toward the trip
	// policy.
	StateClosed State = iota
	// StateOpen rejects all calls unless the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen admits at most Config.HalfOpenCalls probes.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ThresholdMode selects how the sliding-window trip policy of spec.md
// §4.3 evaluates the window.
type ThresholdMode int

const (
	// Absolute trips when the count of Failure events within the last
	// FailureWindow reaches FailureThreshold.
	Absolute ThresholdMode = iota
	// Rate trips when F/(F+S) >= FailureRate, once F+S >= MinimumCalls.
	Rate
)

// Config is a breaker's immutable configuration (spec.md §3: "Config ...
// Immutable post-construction"). Unlike the teacher's Settings, Config
// has no runtime UpdateSettings path — spec.md's data model pins Config
// as immutable, so a caller who wants different thresholds constructs a
// new breaker (or, for coordinated/cascade breakers, reuses the same
// storage handle under a different name during a blue/green rollout).
type Config struct {
	// Name identifies the breaker for logging, instrumentation, and
	// registry lookups. Interned by the registry (spec.md §3) — callers
	// pass a plain string.
	Name string

	// ThresholdMode selects Absolute or Rate evaluation (spec.md §4.3).
	ThresholdMode ThresholdMode

	// FailureThreshold is N in Absolute mode: trip once N failures are
	// observed within FailureWindow.
	FailureThreshold int64

	// FailureRate is f in Rate mode, f ∈ [0, 1]: trip once the failure
	// rate within the window reaches or exceeds f (inclusive).
	FailureRate float64

	// MinimumCalls is m in Rate mode: the window must contain at least m
	// calls before Rate mode will ever trip.
	MinimumCalls int64

	// FailureWindow is the sliding window, in seconds, both modes
	// evaluate failures (and, in Rate mode, successes) within.
	FailureWindow int64

	// SuccessThreshold is the success-window count that, combined with
	// half-open successes, closes the circuit early (spec.md §4.2 step 6).
	SuccessThreshold int64

	// HalfOpenCalls is the maximum concurrent probes admitted while
	// HalfOpen.
	HalfOpenCalls int32

	// ResetTimeout is the cool-off before Open may attempt recovery,
	// before jitter is applied.
	ResetTimeout time.Duration

	// JitterFactor biases the effective cool-off downward: effective =
	// ResetTimeout * (1 - j + r*j), r uniform in [0, 1). Clamped to
	// [0, 1] (spec.md §4.1).
	JitterFactor float64

	// Timeout is advisory only (spec.md §4.2, §9): never enforced by
	// interruption. Passed to the hedged executor as an overall deadline.
	// The breaker does not pass it to storage: it never calls
	// storage.Backend.WithTimeout.
	Timeout time.Duration

	// MaxConcurrent bounds the bulkhead. Zero disables the bulkhead.
	MaxConcurrent int

	// IsFailure classifies an operation error as a circuit failure. A nil
	// error is never a failure. If IsFailure is nil, every non-nil error
	// is a failure (spec.md §7, "exception predicate").
	IsFailure func(error) bool

	// Fallback is tried when a call is rejected or fails (spec.md §7).
	// Nil means "no fallback": rejections and matched failures surface
	// their typed error to the caller.
	Fallback *FallbackSpec

	// Hedge enables racing redundant attempts (spec.md §4.4). Nil means
	// hedging is disabled: Call invokes op exactly once.
	Hedge *HedgeConfig

	// Callbacks, all optional.
	OnOpen     func(name string)
	OnClose    func(name string)
	OnHalfOpen func(name string)
	OnCascade  func(name string, forcedOpen []string)
}

// HedgeConfig configures the hedged executor (spec.md §4.4).
type HedgeConfig struct {
	// Enabled toggles hedging. When false, Hedge is ignored entirely.
	Enabled bool

	// Delay staggers each subsequent attempt's start when the call's own
	// op is repeated. Not applied to Backends, which all start at once.
	Delay time.Duration

	// MaxRequests is how many times to invoke the call's own op when
	// Backends is empty. Ignored when Backends is non-empty.
	MaxRequests int

	// Backends, when non-empty, replaces the call's own op entirely:
	// each element is raced as an independent attempt (spec.md §4.4).
	Backends []func(ctx context.Context) (interface{}, error)
}

// defaultIsFailure treats any non-nil error as a failure, matching the
// teacher's DefaultIsSuccessful(err) == (err == nil).
func defaultIsFailure(err error) bool { return err != nil }

func (c *Config) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if c.IsFailure == nil {
		return defaultIsFailure(err)
	}
	return c.IsFailure(err)
}

// Errors at the boundary (spec.md §6). These are typed, not sentinel
// strings, so callers can carry structured fields the way
// sneha4175-gateway-pro/internal/ratelimiter.ErrRateLimited does.

// CircuitOpenError is returned when a call is rejected because the
// circuit is Open.
type CircuitOpenError struct {
	Name     string
	OpenedAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return "circuitbreaker: " + e.Name + " is open"
}

// BulkheadFullError is returned when the bulkhead has no free permits.
type BulkheadFullError struct {
	Name  string
	Limit int
}

func (e *BulkheadFullError) Error() string {
	return "circuitbreaker: " + e.Name + " bulkhead full"
}

// TimeoutError is returned when a hedged call's overall deadline expires
// before any attempt succeeds.
type TimeoutError struct {
	Name    string
	LimitMS int64
}

func (e *TimeoutError) Error() string {
	return "circuitbreaker: " + e.Name + " timed out"
}

// DependencyUnmetError is returned by a coordinated breaker's
// AttemptRecovery/Reset guard when a declared dependency blocks the
// transition (spec.md §4.1, coordinated variant).
type DependencyUnmetError struct {
	Name string
}

func (e *DependencyUnmetError) Error() string {
	return "circuitbreaker: " + e.Name + " has an unmet dependency"
}

// ConfigurationInvalidError wraps a validation failure raised by New.
type ConfigurationInvalidError struct {
	Reason string
}

func (e *ConfigurationInvalidError) Error() string {
	return "circuitbreaker: invalid configuration: " + e.Reason
}

// ParallelFallbackFailedError is raised when every attempt in a parallel
// fallback fails (spec.md §7).
type ParallelFallbackFailedError struct {
	Errors []error
}

func (e *ParallelFallbackFailedError) Error() string {
	return "circuitbreaker: all parallel fallbacks failed"
}

var (
	// ErrTooManyRequests names the half-open over-admission condition.
	// Call does not return it: a probe that would exceed
	// Config.HalfOpenCalls is rejected with CircuitOpenError.
	ErrTooManyRequests = errors.New("circuitbreaker: too many half-open requests")
)
