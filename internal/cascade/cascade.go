// Package cascade implements the cascade coordinator of spec.md §4.5 and
// the coordinated-variant guards of §4.1: a breaker that, on tripping,
// force-opens a declared set of dependent breakers and invokes an
// emergency hook, and whose own AttemptRecovery/Reset transitions are
// vetoed while its declared dependencies are themselves Open.
//
// Dependents are resolved by name, never by reference (spec.md §9,
// "Cyclic dependencies between breakers"): resolution goes first through
// a Resolver (ordinarily internal/registry.Registry, per
// itsneelabh-gomind/ai/registry.go's lookup-by-name pattern), then
// through an optional owner fallback when the registry has no live
// entry. An unresolved peer is permissive for guards and skipped for
// cascades, exactly as spec.md §9 prescribes.
package cascade

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-run/breaker/internal/core"
	"github.com/lattice-run/breaker/internal/instrumentation"
	"github.com/lattice-run/breaker/internal/storage"
)

// Resolver looks up a live breaker by name. internal/registry.Registry
// satisfies this via FindFirstByName.
type Resolver interface {
	FindFirstByName(name string) (*core.Breaker, bool)
}

// OwnerLookup is queried when the Resolver has no live entry for a
// dependent name (spec.md §4.5 step 1, "if absent and an owner is
// available, query the owner for the breaker").
type OwnerLookup func(name string) (*core.Breaker, bool)

// Info is spec.md §3's CascadeInfo entity: the bookkeeping a cascade
// coordinator keeps about its own dependents, independent of any single
// trip.
type Info struct {
	Dependents      []string
	EmergencyHookID string
	FirstCascade    time.Time
	ObservedState   map[string]core.State
}

// Config builds a Coordinator.
type Config struct {
	// SourceName is the cascading breaker's own name, used for
	// instrumentation and logging.
	SourceName string

	// Dependents are the declared dependent breaker names (spec.md §4.5).
	Dependents []string

	// Registry resolves dependents by name. Required.
	Registry Resolver

	// Owner is consulted when Registry has no live entry for a
	// dependent. May be nil.
	Owner OwnerLookup

	// EmergencyHookID names the emergency hook for Info/instrumentation
	// purposes; the hook function itself is EmergencyHook.
	EmergencyHookID string

	// EmergencyHook, if set, is invoked with the set of dependent names
	// actually force-opened by a cascade. Exceptions (panics) are
	// recovered and logged, never propagated (spec.md §4.5 step 4).
	EmergencyHook func(forcedOpen []string)

	// OnCascade, if set, is the user-facing callback mirroring
	// core.Config.OnCascade (spec.md §4.5 step 5). Swallowed the same way.
	OnCascade func(source string, forcedOpen []string)

	Emitter instrumentation.Emitter
	Logger  *zap.SugaredLogger
}

// Coordinator is a cascade coordinator attached to one source breaker
// (spec.md §4.5). It also implements the coordinated-variant guards of
// §4.1 over the same dependent set: AttemptRecovery is vetoed while any
// dependency is Open; Reset is vetoed unless every dependency is Closed
// or HalfOpen.
type Coordinator struct {
	cfg Config

	mu           sync.Mutex
	firstCascade time.Time
	observed     map[string]core.State
}

// New constructs a Coordinator. Use NewBreaker to build a source breaker
// wired to it.
func New(cfg Config) *Coordinator {
	if cfg.Emitter == nil {
		cfg.Emitter = instrumentation.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Coordinator{cfg: cfg, observed: make(map[string]core.State)}
}

// resolve finds a dependent by name via the registry, falling back to
// the owner lookup, per spec.md §4.5 step 1. Returns ok=false if neither
// source has a live breaker under that name — an unresolved peer.
func (c *Coordinator) resolve(name string) (*core.Breaker, bool) {
	if c.cfg.Registry != nil {
		if b, ok := c.cfg.Registry.FindFirstByName(name); ok {
			return b, true
		}
	}
	if c.cfg.Owner != nil {
		if b, ok := c.cfg.Owner(name); ok {
			return b, true
		}
	}
	return nil, false
}

// Cascade runs the cascade of spec.md §4.5, intended to be invoked from
// the source breaker's on-Open entry action (see NewBreaker).
// Dependents already Open are skipped (spec.md §3 invariant 8); every
// dependent in Closed or HalfOpen is force-opened exactly once.
func (c *Coordinator) Cascade() {
	var forced []string

	for _, name := range c.cfg.Dependents {
		dep, ok := c.resolve(name)
		if !ok {
			// Unresolved peer: skipped for cascades per spec.md §9.
			continue
		}
		state := dep.State()
		c.mu.Lock()
		c.observed[name] = state
		c.mu.Unlock()

		if state == core.StateOpen {
			continue
		}
		dep.ForceOpen()
		forced = append(forced, name)
		c.cfg.Emitter.CascadeFailure(c.cfg.SourceName, instrumentation.Fields{"dependent": name})
	}

	if len(forced) == 0 {
		return
	}

	c.mu.Lock()
	if c.firstCascade.IsZero() {
		c.firstCascade = time.Now()
	}
	c.mu.Unlock()

	if c.cfg.EmergencyHook != nil {
		c.safely(func() { c.cfg.EmergencyHook(forced) })
		c.cfg.Emitter.EmergencyProtocolTriggered(c.cfg.SourceName, instrumentation.Fields{
			"hook": c.cfg.EmergencyHookID, "count": len(forced),
		})
	}
	if c.cfg.OnCascade != nil {
		c.safely(func() { c.cfg.OnCascade(c.cfg.SourceName, forced) })
	}
}

// safely recovers a panic from a hook/callback and logs it at warn level
// (spec.md §7: "Callback and emergency-hook exceptions: swallowed with a
// warn log; do not affect state transitions").
func (c *Coordinator) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.cfg.Logger.Warnw("cascade: hook panicked", "source", c.cfg.SourceName, "panic", r)
		}
	}()
	fn()
}

// Info returns a snapshot of this coordinator's CascadeInfo (spec.md §3).
func (c *Coordinator) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	observed := make(map[string]core.State, len(c.observed))
	for k, v := range c.observed {
		observed[k] = v
	}
	return Info{
		Dependents:      append([]string(nil), c.cfg.Dependents...),
		EmergencyHookID: c.cfg.EmergencyHookID,
		FirstCascade:    c.firstCascade,
		ObservedState:   observed,
	}
}

// CanAttemptRecovery implements the coordinated-variant guard of
// spec.md §4.1: "AttemptRecovery fails when any declared dependency is
// Open." An unresolved dependency is permissive (spec.md §9).
func (c *Coordinator) CanAttemptRecovery() bool {
	for _, name := range c.cfg.Dependents {
		dep, ok := c.resolve(name)
		if !ok {
			continue
		}
		if dep.State() == core.StateOpen {
			return false
		}
	}
	return true
}

// CanReset implements the coordinated-variant guard of spec.md §4.1:
// "Reset fails unless all dependencies are Closed or HalfOpen." An
// unresolved dependency is permissive.
func (c *Coordinator) CanReset() bool {
	for _, name := range c.cfg.Dependents {
		dep, ok := c.resolve(name)
		if !ok {
			continue
		}
		if dep.State() == core.StateOpen {
			return false
		}
	}
	return true
}

// NewBreaker builds a source breaker wired to this coordinator: its
// guards veto AttemptRecovery/Reset per the coordinated variant, and its
// OnOpen entry action runs Cascade after any user-supplied cfg.OnOpen.
// store and opts are passed straight through to core.New.
func (c *Coordinator) NewBreaker(cfg core.Config, store storage.Backend, opts ...core.Option) (*core.Breaker, error) {
	userOnOpen := cfg.OnOpen
	cfg.OnOpen = func(name string) {
		if userOnOpen != nil {
			userOnOpen(name)
		}
		c.Cascade()
	}
	allOpts := append([]core.Option{core.WithGuards(c.CanAttemptRecovery, c.CanReset)}, opts...)
	return core.New(cfg, store, allOpts...)
}
