// Package breaker is the public facade of a circuit-breaker core:
// thread-safe state machine, sliding-window outcome store, bulkhead,
// hedged execution, cascade coordination, and a pluggable storage layer
// with failover between backends.
//
// The facade re-exports internal/core, internal/storage,
// internal/registry, internal/hedge and internal/cascade the way the
// teacher's own autobreaker.go re-exports internal/breaker: type
// aliases plus package-variable function bindings, so callers import
// one path (github.com/lattice-run/breaker) instead of reaching into
// internal/*.
//
// # Quick Start
//
//	store := breaker.NewBucketed(nil, 0, 0)
//	b, err := breaker.New(breaker.Config{
//	    Name:             "payments-api",
//	    ThresholdMode:    breaker.Absolute,
//	    FailureThreshold: 5,
//	    FailureWindow:    60,
//	    ResetTimeout:     30 * time.Second,
//	    HalfOpenCalls:    1,
//	    SuccessThreshold: 1,
//	}, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := b.Call(ctx, func(ctx context.Context) (interface{}, error) {
//	    return client.Do(ctx)
//	})
//
// # Scope
//
// This package implements only the protected-call core. A declarative
// fluent builder, an operator REPL/console, notification/logging glue
// beyond the zap/Prometheus adapters below, and framework bindings are
// out of scope (spec.md §1) — callers compose Config directly.
package breaker

import (
	"context"

	"github.com/lattice-run/breaker/internal/cascade"
	"github.com/lattice-run/breaker/internal/clock"
	"github.com/lattice-run/breaker/internal/core"
	"github.com/lattice-run/breaker/internal/hedge"
	"github.com/lattice-run/breaker/internal/instrumentation"
	"github.com/lattice-run/breaker/internal/registry"
	"github.com/lattice-run/breaker/internal/storage"
)

// Core Types
//
// These types form the public API of the circuit breaker.

// Breaker is a named protected-call wrapper: state, config, storage
// handle, and bulkhead (spec.md §3). See internal/core.Breaker for
// implementation details.
type Breaker = core.Breaker

// State is one of StateClosed, StateOpen, StateHalfOpen.
type State = core.State

// ThresholdMode selects Absolute or Rate sliding-window evaluation
// (spec.md §4.3).
type ThresholdMode = core.ThresholdMode

// Config configures a Breaker at construction. Immutable post-
// construction (spec.md §3).
type Config = core.Config

// HedgeConfig configures the hedged executor (spec.md §4.4).
type HedgeConfig = core.HedgeConfig

// FallbackSpec describes what to return in place of a rejected or
// failed call (spec.md §7).
type FallbackSpec = core.FallbackSpec

// FallbackKind selects one of the four fallback shapes of spec.md §7.
type FallbackKind = core.FallbackKind

// Stats is a point-in-time snapshot of a breaker's observable state
// (spec.md §6).
type Stats = core.Stats

// Storage is the pluggable storage contract of spec.md §4.6.
type Storage = storage.Backend

// StorageEvent is one outcome appended to a breaker's event log.
type StorageEvent = storage.Event

// StorageStatus is the persisted {state, opened_at?} pair.
type StorageStatus = storage.Status

// ChainMember is one {backend, per-op timeout} entry in a fallback
// storage chain.
type ChainMember = storage.ChainMember

// Registry is the process-wide breaker index of spec.md §4.7.
type Registry = registry.Registry

// RegistrySummary is the aggregate view returned by Registry.Summarize.
type RegistrySummary = registry.Summary

// Emitter receives breaker instrumentation events (spec.md §6).
type Emitter = instrumentation.Emitter

// EmitterFields is the key-value payload attached to an instrumentation
// event.
type EmitterFields = instrumentation.Fields

// Clock is the ambient monotonic time source (spec.md §1).
type Clock = clock.Clock

// CascadeConfig configures a cascade coordinator (spec.md §4.5).
type CascadeConfig = cascade.Config

// CascadeCoordinator force-opens declared dependents on trip and
// supplies the coordinated-variant guards of spec.md §4.1.
type CascadeCoordinator = cascade.Coordinator

// CascadeInfo is spec.md §3's CascadeInfo entity.
type CascadeInfo = cascade.Info

// State Constants

const (
	// StateClosed admits all calls.
	StateClosed = core.StateClosed
	// StateOpen rejects all calls unless the reset timeout has elapsed.
	StateOpen = core.StateOpen
	// StateHalfOpen admits at most Config.HalfOpenCalls probes.
	StateHalfOpen = core.StateHalfOpen

	// Absolute trips on an absolute failure count within the window.
	Absolute = core.Absolute
	// Rate trips on a failure rate within the window.
	Rate = core.Rate

	// FallbackStatic always returns the same value.
	FallbackStatic = core.FallbackStatic
	// FallbackCallable computes a value from the triggering error.
	FallbackCallable = core.FallbackCallable
	// FallbackSequence tries each entry in order until one succeeds.
	FallbackSequence = core.FallbackSequence
	// FallbackParallel races every entry concurrently.
	FallbackParallel = core.FallbackParallel

	// DefaultBucketCount is B from spec.md §4.6 (300 one-second buckets).
	DefaultBucketCount = storage.DefaultBucketCount
)

// Errors
//
// Named error kinds at the boundary (spec.md §6).

// CircuitOpenError is returned when a call is rejected because the
// circuit is Open.
type CircuitOpenError = core.CircuitOpenError

// BulkheadFullError is returned when the bulkhead has no free permits.
type BulkheadFullError = core.BulkheadFullError

// TimeoutError is returned when a hedged call's overall deadline expires
// before any attempt succeeds.
type TimeoutError = core.TimeoutError

// DependencyUnmetError is returned by a coordinated breaker's
// AttemptRecovery/Reset guard when a declared dependency blocks it.
type DependencyUnmetError = core.DependencyUnmetError

// ConfigurationInvalidError wraps a validation failure raised by New.
type ConfigurationInvalidError = core.ConfigurationInvalidError

// ParallelFallbackFailedError is raised when every attempt in a
// parallel fallback fails.
type ParallelFallbackFailedError = core.ParallelFallbackFailedError

// StorageTimeoutError reports that a backend-enforced deadline expired.
type StorageTimeoutError = storage.TimeoutError

var (
	// ErrTooManyRequests names the half-open over-admission condition.
	// Breaker.Call does not return it: a probe that would exceed
	// Config.HalfOpenCalls is rejected with CircuitOpenError.
	ErrTooManyRequests = core.ErrTooManyRequests

	// ErrStorageExhausted is raised by the fallback chain when every
	// backend fails an operation.
	ErrStorageExhausted = storage.ErrStorageExhausted
)

// Constructor and Helper Functions
//
// We expose internal/core, internal/storage and internal/registry
// functions via package variables (var New = core.New) rather than
// wrapper functions, the same "Package Variable Pattern" the teacher's
// autobreaker.go documents: a cleaner import path with zero wrapper
// overhead, appropriate for a library facade.

// New constructs a Breaker backed by store. Settings are validated at
// construction; invalid settings return ConfigurationInvalidError.
var New = core.New

// WithClock overrides the ambient time source (tests only, in practice).
var WithClock = core.WithClock

// WithEmitter wires an instrumentation sink into a Breaker.
var WithEmitter = core.WithEmitter

// StaticFallback returns a FallbackSpec that always yields v.
var StaticFallback = core.StaticFallback

// CallableFallback returns a FallbackSpec computed from the triggering
// error.
var CallableFallback = core.CallableFallback

// SequenceFallback tries each spec in order until one succeeds.
var SequenceFallback = core.SequenceFallback

// ParallelFallback races every spec concurrently; first success wins.
var ParallelFallback = core.ParallelFallback

// NewFlat constructs the flat in-process storage backend.
var NewFlat = storage.NewFlat

// NewBucketed constructs the bucketed in-process storage backend.
var NewBucketed = storage.NewBucketed

// NewNull constructs the no-op storage backend.
var NewNull = storage.NewNull

// NewRedisCache constructs the external cache storage backend.
var NewRedisCache = storage.NewRedisCache

// NewChain constructs a fallback-chain storage backend composing
// several members, each skipped while unhealthy.
var NewChain = storage.NewChain

// NewRegistry constructs an empty process-wide breaker registry.
var NewRegistry = registry.New

// NewCascade constructs a cascade coordinator (spec.md §4.5).
var NewCascade = cascade.New

// NewZap logs every instrumentation event through a *zap.SugaredLogger.
var NewZap = instrumentation.NewZap

// NewProm exports instrumentation events as Prometheus metrics.
var NewProm = instrumentation.NewProm

// RegistryOption configures a Registry at construction.
type RegistryOption = registry.Option

// WithRegistryLogger sets the compaction/eviction logger on a Registry.
var WithRegistryLogger = registry.WithLogger

// WithRegistryMaxAge bounds how old a dynamic registry entry may get
// before Compact evicts it regardless of liveness.
var WithRegistryMaxAge = registry.WithMaxAge

// ChainOption configures a storage fallback Chain at construction.
type ChainOption = storage.ChainOption

// WithChainThreshold sets the consecutive-failure count that flips a
// chain member Unhealthy.
var WithChainThreshold = storage.WithChainThreshold

// WithChainCoolOff sets how long a chain member stays Unhealthy.
var WithChainCoolOff = storage.WithChainCoolOff

// WithChainInstrumentation wires a storage.ChainInstrumentation sink
// into a fallback Chain. Use ChainBridge to adapt an Emitter.
var WithChainInstrumentation = storage.WithChainInstrumentation

// ChainBridge adapts an Emitter into the storage chain's own
// instrumentation contract, so one Emitter backs both breaker-level and
// storage-chain-level events.
type ChainBridge = instrumentation.ChainBridge

// RedisCacheOption configures a RedisCache storage backend.
type RedisCacheOption = storage.RedisCacheOption

// HedgeRunConfig is the hedged executor's own Config (spec.md §4.4),
// distinct from Config.Hedge's simplified shape; exposed for callers
// who want hedged execution without circuit-breaker admission control.
type HedgeRunConfig = hedge.Config

// HedgeRun races op up to cfg.MaxRequests times with staggered starts
// (spec.md §4.4), independent of a Breaker. Most callers configure
// Config.Hedge instead and let Breaker.Call invoke hedging internally.
func HedgeRun(ctx context.Context, cfg HedgeRunConfig, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	return hedge.Run(ctx, cfg, hedge.Op(op))
}

// HedgeRunBackends races each element of ops as an independent attempt
// (spec.md §4.4, "When backends is supplied...").
func HedgeRunBackends(ctx context.Context, cfg HedgeRunConfig, ops []func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	hops := make([]hedge.Op, len(ops))
	for i, o := range ops {
		hops[i] = hedge.Op(o)
	}
	return hedge.RunBackends(ctx, cfg, hops)
}
