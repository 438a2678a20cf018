package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
	"github.com/lattice-run/breaker/internal/hedge"
	"github.com/lattice-run/breaker/internal/instrumentation"
	"github.com/lattice-run/breaker/internal/storage"
)

// Breaker is the protected-call wrapper of spec.md §4.2: a named state
// machine fused with a storage-backed sliding-window threshold, a
// non-blocking bulkhead, and fallback routing.
//
// Architecture, following the teacher's own layering
// (internal/breaker/circuitbreaker.go): state and half-open counters are
// atomic so admission never takes a lock (only lastErr sits behind a
// mutex); Config is immutable after New (spec.md §3) so it needs no
// runtime synchronization at all.
type Breaker struct {
	name   string
	cfg    Config
	store  storage.Backend
	clock  clock.Clock
	emit   instrumentation.Emitter
	bulk   *bulkhead
	guards guards // coordinated-variant hooks; zero value is permissive

	state atomic.Int32 // State

	openedAt          atomic.Int64 // UnixNano, 0 means "not open"
	halfOpenAttempts  atomic.Int32
	halfOpenSuccesses atomic.Int32

	mu       sync.Mutex // guards lastErr only
	lastErr  error
}

// guards lets a coordinated breaker veto AttemptRecovery/Reset based on
// peer state (spec.md §4.1, "Coordinated variant"). The zero value
// (nil funcs) is fully permissive, matching spec.md §9's rule that
// unresolved peers "do not block transitions."
type guards struct {
	canAttemptRecovery func() bool
	canReset           func() bool
}

// Option configures a Breaker at construction.
type Option func(*Breaker)

// WithClock overrides the ambient time source (tests only, in practice).
func WithClock(c clock.Clock) Option { return func(b *Breaker) { b.clock = c } }

// WithEmitter wires an instrumentation sink.
func WithEmitter(e instrumentation.Emitter) Option { return func(b *Breaker) { b.emit = e } }

// WithGuards installs the coordinated-variant guard hooks. Used by
// internal/cascade and by a coordinated-breaker constructor one layer up;
// not part of the public surface.
func WithGuards(canAttemptRecovery, canReset func() bool) Option {
	return func(b *Breaker) {
		b.guards = guards{canAttemptRecovery: canAttemptRecovery, canReset: canReset}
	}
}

// New validates cfg and constructs a Breaker backed by store. It restores
// persisted status from store if present (spec.md §3: "read on
// construction to restore").
func New(cfg Config, store storage.Backend, opts ...Option) (*Breaker, error) {
	if cfg.Name == "" {
		return nil, &ConfigurationInvalidError{Reason: "name must not be empty"}
	}
	if cfg.ThresholdMode == Rate && (cfg.FailureRate < 0 || cfg.FailureRate > 1) {
		return nil, &ConfigurationInvalidError{Reason: "failure rate must be in [0, 1]"}
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		cfg.JitterFactor = clampUnit(cfg.JitterFactor)
	}
	if cfg.HalfOpenCalls <= 0 {
		cfg.HalfOpenCalls = 1
	}
	if store == nil {
		store = storage.NewNull()
	}

	b := &Breaker{
		name:  cfg.Name,
		cfg:   cfg,
		store: store,
		clock: clock.System,
		emit:  instrumentation.Noop{},
		bulk:  newBulkhead(cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(b)
	}

	if st, ok, err := b.store.GetStatus(context.Background(), b.name); err == nil && ok {
		b.restore(st)
	} else {
		b.state.Store(int32(StateClosed))
	}
	return b, nil
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func (b *Breaker) restore(st storage.Status) {
	switch st.State {
	case StateOpen.String():
		b.state.Store(int32(StateOpen))
		b.openedAt.Store(st.OpenedAt.UnixNano())
	case StateHalfOpen.String():
		// A process restart always resumes into Closed even if it died
		// mid-probe: HalfOpen's admission counters are in-memory only
		// and cannot be trusted across a restart (spec.md §3 invariant 3,
		// "zero except while state = HalfOpen" — a fresh process has no
		// outstanding probes to account for).
		b.state.Store(int32(StateClosed))
	default:
		b.state.Store(int32(StateClosed))
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State { return State(b.state.Load()) }

// Config returns the breaker's immutable configuration.
func (b *Breaker) Config() Config { return b.cfg }

// lastError returns the most recently recorded operation error, if any.
func (b *Breaker) lastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *Breaker) setLastError(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// Call runs op under circuit-breaker protection (spec.md §4.2). It
// returns op's result, a fallback value, or a typed rejection/failure
// error.
func (b *Breaker) Call(ctx context.Context, op func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	// Step 1: lazy recovery probe.
	b.maybeAttemptRecovery()

	// Step 2: bulkhead.
	if !b.bulk.tryAcquire() {
		b.recordRejection(ctx, "bulkhead_full")
		err := &BulkheadFullError{Name: b.name, Limit: b.cfg.MaxConcurrent}
		return b.routeRejection(err)
	}
	defer b.bulk.release()

	// Step 3: admission.
	state := b.State()
	switch state {
	case StateOpen:
		b.recordRejection(ctx, "circuit_open")
		err := &CircuitOpenError{Name: b.name, OpenedAt: time.Unix(0, b.openedAt.Load())}
		return b.routeRejection(err)
	case StateHalfOpen:
		n := b.halfOpenAttempts.Add(1)
		if n > b.cfg.HalfOpenCalls {
			b.halfOpenAttempts.Add(-1)
			b.recordRejection(ctx, "circuit_open")
			err := &CircuitOpenError{Name: b.name, OpenedAt: time.Unix(0, b.openedAt.Load())}
			return b.routeRejection(err)
		}
	}

	// Step 4: execute, with panic-as-failure recovery matching the
	// teacher's Execute().
	started := b.clock.Now()
	result, opErr := b.invoke(ctx, op)
	elapsed := b.clock.Now().Sub(started)

	// A recovered panic goes through the same bookkeeping as an error,
	// then is re-raised with its original value.
	if pe, ok := opErr.(*panicError); ok {
		if b.cfg.isFailure(opErr) {
			b.setLastError(opErr)
			b.recordFailure(ctx, elapsed, state, opErr)
		} else if state == StateHalfOpen {
			b.halfOpenAttempts.Add(-1)
		}
		panic(pe.value)
	}

	// Step 5/6: classify and transition. Three distinct outcomes, not two:
	// a nil error records Success; an error matching IsFailure records
	// Failure; an error that matches neither records nothing at all and
	// is re-raised unmodified (spec.md §3 invariant 6) — it must not be
	// folded into "not a failure therefore a Success", which would
	// inflate Rate mode's window and could spuriously satisfy
	// HalfOpenCalls/SuccessThreshold.
	if opErr == nil {
		b.recordSuccess(ctx, elapsed, state)
		return result, nil
	}
	if !b.cfg.isFailure(opErr) {
		if state == StateHalfOpen {
			// recordSuccess/recordFailure normally release the half-open
			// probe slot acquired at admission; since neither runs here,
			// release it directly so it doesn't leak.
			b.halfOpenAttempts.Add(-1)
		}
		return result, opErr
	}

	b.setLastError(opErr)
	b.recordFailure(ctx, elapsed, state, opErr)
	return b.routeRejection(opErr)
}

// invoke executes op with panic recovery, converting a panic into a
// failure error the caller's IsFailure predicate will match by default
// (defaultIsFailure treats any non-nil error, including a recovered
// panic, as a failure). Call re-panics with the original value after its
// bookkeeping — matching the teacher's documented contract ("Re-panic to
// preserve stack trace").
func (b *Breaker) invoke(ctx context.Context, op func(context.Context) (interface{}, error)) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	if b.cfg.Hedge != nil && b.cfg.Hedge.Enabled {
		return b.invokeHedged(ctx, op)
	}
	return op(ctx)
}

// invokeHedged races op (or the configured Backends) per spec.md §4.4,
// bounded by Config.Timeout as the overall deadline when set.
func (b *Breaker) invokeHedged(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	hc := b.cfg.Hedge
	runCfg := hedge.Config{Delay: hc.Delay, MaxRequests: hc.MaxRequests, Deadline: b.cfg.Timeout}

	var v interface{}
	var err error
	if len(hc.Backends) > 0 {
		ops := make([]hedge.Op, len(hc.Backends))
		for i, fn := range hc.Backends {
			ops[i] = hedge.Op(fn)
		}
		v, err = hedge.RunBackends(ctx, runCfg, ops)
	} else {
		v, err = hedge.Run(ctx, runCfg, hedge.Op(op))
	}
	if err == context.DeadlineExceeded {
		return nil, &TimeoutError{Name: b.name, LimitMS: b.cfg.Timeout.Milliseconds()}
	}
	return v, err
}

type panicError struct{ value interface{} }

func (p *panicError) Error() string { return "circuitbreaker: operation panicked" }

func (b *Breaker) routeRejection(triggerErr error) (interface{}, error) {
	if b.cfg.Fallback == nil {
		return nil, triggerErr
	}
	v, err := resolveFallback(b.cfg.Fallback, triggerErr)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (b *Breaker) recordRejection(ctx context.Context, reason string) {
	_ = b.store.RecordEvent(ctx, b.name, storage.Event{Kind: storage.Rejection, At: b.clock.Now()})
	b.emit.Rejected(b.name, instrumentation.Fields{"reason": reason})
}

func (b *Breaker) recordSuccess(ctx context.Context, elapsed time.Duration, stateAtAdmit State) {
	_ = b.store.RecordSuccess(ctx, b.name, elapsed)
	_ = b.store.RecordEvent(ctx, b.name, storage.Event{Kind: storage.Success, At: b.clock.Now(), Duration: elapsed})

	if stateAtAdmit == StateHalfOpen {
		defer b.halfOpenAttempts.Add(-1)
		successes := b.halfOpenSuccesses.Add(1)
		windowSuccesses, _ := b.store.SuccessCount(ctx, b.name, b.cfg.FailureWindow)
		if successes >= b.cfg.HalfOpenCalls || windowSuccesses >= b.cfg.SuccessThreshold {
			b.reset(ctx)
		}
		return
	}

	if stateAtAdmit == StateClosed {
		b.checkTrip(ctx)
	}
}

func (b *Breaker) recordFailure(ctx context.Context, elapsed time.Duration, stateAtAdmit State, opErr error) {
	_ = b.store.RecordFailure(ctx, b.name, elapsed)
	_ = b.store.RecordEvent(ctx, b.name, storage.Event{
		Kind: storage.Failure, At: b.clock.Now(), Duration: elapsed, ErrMsg: opErr.Error(),
	})

	if stateAtAdmit == StateHalfOpen {
		defer b.halfOpenAttempts.Add(-1)
		b.trip(ctx)
		return
	}

	if stateAtAdmit == StateClosed {
		b.checkTrip(ctx)
	}
}

// maybeAttemptRecovery implements spec.md §4.2 step 1: if Open and the
// cool-off has elapsed, atomically attempt the transition to HalfOpen.
func (b *Breaker) maybeAttemptRecovery() {
	if b.State() != StateOpen {
		return
	}
	openedAt := b.openedAt.Load()
	if openedAt == 0 {
		return
	}
	elapsed := b.clock.Now().Sub(time.Unix(0, openedAt))
	if elapsed < b.effectiveResetTimeout() {
		return
	}
	if b.guards.canAttemptRecovery != nil && !b.guards.canAttemptRecovery() {
		return
	}
	b.transition(StateOpen, StateHalfOpen, func() {
		b.halfOpenAttempts.Store(0)
		b.halfOpenSuccesses.Store(0)
	})
}
