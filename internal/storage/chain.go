package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-run/breaker/internal/clock"
)

// ChainInstrumentation receives the fallback chain's instrumentation
// events (spec.md §4.6, last paragraph). All methods are best-effort;
// implementations must not block or panic (see instrumentation package).
type ChainInstrumentation interface {
	OperationSuccess(backend string, op string)
	FallbackToNext(fromBackend string, op string, err error)
	BackendSkipped(backend string, op string)
	BackendHealthChanged(backend string, healthy bool)
	ChainOperation(op string, ok bool)
}

type noopChainInstrumentation struct{}

func (noopChainInstrumentation) OperationSuccess(string, string)        {}
func (noopChainInstrumentation) FallbackToNext(string, string, error)   {}
func (noopChainInstrumentation) BackendSkipped(string, string)          {}
func (noopChainInstrumentation) BackendHealthChanged(string, bool)      {}
func (noopChainInstrumentation) ChainOperation(string, bool)            {}

// ChainMember is one {backend, per-op timeout} entry in a fallback chain.
type ChainMember struct {
	Name      string
	Backend   Backend
	TimeoutMS int64
}

// backendHealth is spec.md §3's "Backend health" entity: one per backend,
// owned by the chain.
type backendHealth struct {
	mu             sync.Mutex
	failures       int
	healthy        bool
	unhealthyUntil time.Time
}

// Chain is the fallback-chain backend of spec.md §4.6: an ordered list of
// backends, each skipped while Unhealthy, invoked under its own timeout.
// A backend flips Healthy→Unhealthy after the chain's threshold
// (WithChainThreshold) of consecutive
// failures and stays Unhealthy until a cool-off elapses. If every backend
// fails an operation, Chain returns ErrStorageExhausted.
//
// Grounded on the teacher's own layered-fallback posture (autobreaker's
// ReadyToTrip/ErrOpenState split) generalized from "one circuit" to "one
// health state machine per storage backend"; storage is a leaf
// dependency and must never call back into a breaker (spec.md §9).
type Chain struct {
	members   []ChainMember
	threshold int
	coolOff   time.Duration
	clock     clock.Clock
	instr     ChainInstrumentation
	log       *zap.SugaredLogger

	mu      sync.Mutex
	health  map[string]*backendHealth
}

// ChainOption configures a Chain at construction.
type ChainOption func(*Chain)

// WithChainThreshold sets the consecutive-failure count that flips a
// backend Unhealthy (default 3, per spec.md §4.6).
func WithChainThreshold(n int) ChainOption { return func(c *Chain) { c.threshold = n } }

// WithChainCoolOff sets how long a backend stays Unhealthy (default 30s).
func WithChainCoolOff(d time.Duration) ChainOption { return func(c *Chain) { c.coolOff = d } }

// WithChainClock overrides the clock used for unhealthy-until bookkeeping.
func WithChainClock(cl clock.Clock) ChainOption { return func(c *Chain) { c.clock = cl } }

// WithChainInstrumentation wires the instrumentation sink described in
// spec.md §4.6 ("success, fallback-to-next, skip-unhealthy, backend
// health change, and chain success/failure").
func WithChainInstrumentation(i ChainInstrumentation) ChainOption {
	return func(c *Chain) { c.instr = i }
}

// WithChainLogger sets the warn-logger for swallowed chain exceptions.
func WithChainLogger(l *zap.SugaredLogger) ChainOption { return func(c *Chain) { c.log = l } }

// NewChain builds a fallback chain over members, tried in order.
func NewChain(members []ChainMember, opts ...ChainOption) *Chain {
	c := &Chain{
		members:   members,
		threshold: 3,
		coolOff:   30 * time.Second,
		clock:     clock.System,
		instr:     noopChainInstrumentation{},
		log:       zap.NewNop().Sugar(),
		health:    make(map[string]*backendHealth),
	}
	for _, m := range members {
		c.health[m.Name] = &backendHealth{healthy: true}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) healthOf(name string) *backendHealth {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.health[name]
	if !ok {
		h = &backendHealth{healthy: true}
		c.health[name] = h
	}
	return h
}

func (c *Chain) isUnhealthy(h *backendHealth) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.healthy {
		return false
	}
	if c.clock.Now().After(h.unhealthyUntil) {
		// Cool-off elapsed: give the backend another chance, but leave
		// the transition to Healthy to an actual success (spec.md §4.6
		// only specifies the reverse edge explicitly; treat a
		// skip-eligible-again backend as still on probation until it
		// succeeds once more).
		return false
	}
	return true
}

func (c *Chain) onSuccess(name string, h *backendHealth) {
	h.mu.Lock()
	wasUnhealthy := !h.healthy
	h.failures = 0
	h.healthy = true
	h.mu.Unlock()
	if wasUnhealthy {
		c.instr.BackendHealthChanged(name, true)
	}
}

func (c *Chain) onFailure(name string, h *backendHealth) {
	h.mu.Lock()
	h.failures++
	flipped := false
	if h.failures >= c.threshold && h.healthy {
		h.healthy = false
		h.unhealthyUntil = c.clock.Now().Add(c.coolOff)
		flipped = true
	}
	h.mu.Unlock()
	if flipped {
		c.instr.BackendHealthChanged(name, false)
	}
}

// run executes fn against each healthy member in order, applying health
// bookkeeping and instrumentation, and returns the first success.
func (c *Chain) run(opName string, fn func(ChainMember) error) error {
	for _, m := range c.members {
		h := c.healthOf(m.Name)
		if c.isUnhealthy(h) {
			c.instr.BackendSkipped(m.Name, opName)
			continue
		}
		err := m.Backend.WithTimeout(context.Background(), m.TimeoutMS, func(ctx context.Context) error {
			return fn(m)
		})
		if err == nil {
			c.onSuccess(m.Name, h)
			c.instr.OperationSuccess(m.Name, opName)
			c.instr.ChainOperation(opName, true)
			return nil
		}
		c.onFailure(m.Name, h)
		c.log.Warnw("storage: chain backend failed", "backend", m.Name, "op", opName, "err", err)
		c.instr.FallbackToNext(m.Name, opName, err)
	}
	c.instr.ChainOperation(opName, false)
	return ErrStorageExhausted
}

func (c *Chain) GetStatus(ctx context.Context, name string) (Status, bool, error) {
	var result Status
	var found bool
	err := c.run("get_status", func(m ChainMember) error {
		st, ok, err := m.Backend.GetStatus(ctx, name)
		if err != nil {
			return err
		}
		result, found = st, ok
		return nil
	})
	if err != nil {
		return Status{}, false, err
	}
	return result, found, nil
}

func (c *Chain) SetStatus(ctx context.Context, name string, status Status) error {
	return c.run("set_status", func(m ChainMember) error { return m.Backend.SetStatus(ctx, name, status) })
}

func (c *Chain) RecordSuccess(ctx context.Context, name string, d time.Duration) error {
	return c.run("record_success", func(m ChainMember) error { return m.Backend.RecordSuccess(ctx, name, d) })
}

func (c *Chain) RecordFailure(ctx context.Context, name string, d time.Duration) error {
	return c.run("record_failure", func(m ChainMember) error { return m.Backend.RecordFailure(ctx, name, d) })
}

func (c *Chain) SuccessCount(ctx context.Context, name string, windowSeconds int64) (int64, error) {
	var n int64
	err := c.run("success_count", func(m ChainMember) error {
		v, err := m.Backend.SuccessCount(ctx, name, windowSeconds)
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (c *Chain) FailureCount(ctx context.Context, name string, windowSeconds int64) (int64, error) {
	var n int64
	err := c.run("failure_count", func(m ChainMember) error {
		v, err := m.Backend.FailureCount(ctx, name, windowSeconds)
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (c *Chain) RecordEvent(ctx context.Context, name string, ev Event) error {
	return c.run("record_event", func(m ChainMember) error { return m.Backend.RecordEvent(ctx, name, ev) })
}

func (c *Chain) EventLog(ctx context.Context, name string, limit int) ([]Event, error) {
	var out []Event
	err := c.run("event_log", func(m ChainMember) error {
		v, err := m.Backend.EventLog(ctx, name, limit)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (c *Chain) Clear(ctx context.Context, name string) error {
	return c.run("clear", func(m ChainMember) error { return m.Backend.Clear(ctx, name) })
}

func (c *Chain) ClearAll(ctx context.Context) error {
	return c.run("clear_all", func(m ChainMember) error { return m.Backend.ClearAll(ctx) })
}

// WithTimeout on the chain itself simply runs op; per-member timeouts are
// already applied member-by-member inside run().
func (c *Chain) WithTimeout(ctx context.Context, _ int64, op func(ctx context.Context) error) error {
	return op(ctx)
}
