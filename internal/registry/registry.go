// Package registry implements the process-wide breaker index of spec.md
// §4.7: register/unregister, enumeration, find-by-name, force-*-by-name,
// summary statistics, and a get-or-create path for dynamic breakers with
// weak-reference staleness detection and age-based eviction.
//
// Grounded on itsneelabh-gomind/ai/registry.go's package-singleton +
// sync.RWMutex + register/lookup/list shape, generalized from a
// provider-factory index to a weak-referenced breaker index per spec.md
// §9 ("Global registries... mutation goes through a single lock;
// enumeration returns snapshots").
package registry

import (
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lattice-run/breaker/internal/core"
)

// Breaker is the registry's view of a tracked breaker: a bare alias for
// core.Breaker's pointer type, given a name so call sites in this
// package (and internal/cascade, which resolves peers through a Registry)
// read as "a breaker handle" rather than a raw pointer.
type Breaker = *core.Breaker

// entry is one registry slot: a weak reference to a live breaker plus
// the bookkeeping needed for staleness and age-based eviction. The
// registry holds only weak.Pointer[core.Breaker] — never a strong
// reference — so an owner that drops every strong reference to a
// breaker lets it (and this entry) be collected, per spec.md §9's weak-
// ownership design note.
type entry struct {
	id        string
	name      string
	ptr       weak.Pointer[core.Breaker]
	createdAt time.Time
	dynamic   bool
}

// Registry is the process-wide index. The zero value is not usable; use
// New. Encapsulated behind an explicit handle (not bare package globals)
// per spec.md §9, so tests can substitute their own instance.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	byName  map[string][]*entry
	log     *zap.SugaredLogger
	maxAge  time.Duration
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithLogger sets the compaction/eviction logger.
func WithLogger(l *zap.SugaredLogger) Option { return func(r *Registry) { r.log = l } }

// WithMaxAge sets how old a dynamic (get-or-create'd) entry may get
// before Compact evicts it regardless of liveness. Zero disables
// age-based eviction.
func WithMaxAge(d time.Duration) Option { return func(r *Registry) { r.maxAge = d } }

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:   make(map[string]*entry),
		byName: make(map[string][]*entry),
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds b under a freshly minted identity and returns it. The
// registry never keeps b alive by itself: only the caller's own strong
// reference does that.
func (r *Registry) Register(b *core.Breaker) string {
	return r.register(b, false)
}

func (r *Registry) register(b *core.Breaker, dynamic bool) string {
	id := uuid.NewString()
	e := &entry{
		id:        id,
		name:      b.Name(),
		ptr:       weak.Make(b),
		createdAt: time.Now(),
		dynamic:   dynamic,
	}
	r.mu.Lock()
	r.byID[id] = e
	r.byName[e.name] = append(r.byName[e.name], e)
	r.mu.Unlock()
	return id
}

// Unregister removes the entry with the given id, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	r.removeFromNameIndexLocked(e)
}

func (r *Registry) removeFromNameIndexLocked(e *entry) {
	list := r.byName[e.name]
	for i, cand := range list {
		if cand == e {
			r.byName[e.name] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byName[e.name]) == 0 {
		delete(r.byName, e.name)
	}
}

// resolve dereferences a weak entry, returning (breaker, true) if still
// live, or (nil, false) if the referent has been collected.
func resolve(e *entry) (*core.Breaker, bool) {
	p := e.ptr.Value()
	if p == nil {
		return nil, false
	}
	return p, true
}

// All returns a snapshot of every currently-live breaker.
func (r *Registry) All() []*core.Breaker {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Breaker, 0, len(entries))
	for _, e := range entries {
		if b, ok := resolve(e); ok {
			out = append(out, b)
		}
	}
	return out
}

// FindFirstByName returns one live breaker registered under name, if any.
func (r *Registry) FindFirstByName(name string) (Breaker, bool) {
	r.mu.RLock()
	list := append([]*entry(nil), r.byName[name]...)
	r.mu.RUnlock()

	for _, e := range list {
		if b, ok := resolve(e); ok {
			return b, true
		}
	}
	return nil, false
}

// FindAllByName returns every live breaker registered under name.
func (r *Registry) FindAllByName(name string) []Breaker {
	r.mu.RLock()
	list := append([]*entry(nil), r.byName[name]...)
	r.mu.RUnlock()

	out := make([]Breaker, 0, len(list))
	for _, e := range list {
		if b, ok := resolve(e); ok {
			out = append(out, b)
		}
	}
	return out
}

// ForceOpenByName force-opens every live breaker registered under name.
func (r *Registry) ForceOpenByName(name string) int {
	n := 0
	for _, b := range r.FindAllByName(name) {
		b.ForceOpen()
		n++
	}
	return n
}

// ForceCloseByName force-closes every live breaker registered under name.
func (r *Registry) ForceCloseByName(name string) int {
	n := 0
	for _, b := range r.FindAllByName(name) {
		b.ForceClose()
		n++
	}
	return n
}

// ResetByName hard-resets every live breaker registered under name.
func (r *Registry) ResetByName(name string) int {
	n := 0
	for _, b := range r.FindAllByName(name) {
		b.HardReset()
		n++
	}
	return n
}

// Summary is the aggregate view of spec.md §4.7 ("summary statistics:
// counts by state and by name").
type Summary struct {
	ByState map[core.State]int
	ByName  map[string]int
	Total   int
}

// Summarize computes a snapshot summary over every currently-live
// breaker.
func (r *Registry) Summarize() Summary {
	s := Summary{ByState: make(map[core.State]int), ByName: make(map[string]int)}
	for _, b := range r.All() {
		s.ByState[b.State()]++
		s.ByName[b.Name()]++
		s.Total++
	}
	return s
}

// GetOrCreate returns an existing live breaker named name, or calls
// create and registers the result as a dynamic entry. A stale entry
// (dead weak reference) under the same name is replaced rather than
// leaked (spec.md §4.7).
func (r *Registry) GetOrCreate(name string, create func() (Breaker, error)) (Breaker, error) {
	if b, ok := r.FindFirstByName(name); ok {
		return b, nil
	}

	r.mu.Lock()
	// Drop stale entries under this name before creating, so a dead
	// weak ref doesn't linger forever next to the fresh one.
	live := r.byName[name][:0]
	for _, e := range r.byName[name] {
		if _, ok := resolve(e); ok {
			live = append(live, e)
		} else {
			delete(r.byID, e.id)
		}
	}
	if len(live) == 0 {
		delete(r.byName, name)
	} else {
		r.byName[name] = live
	}
	r.mu.Unlock()

	b, err := create()
	if err != nil {
		return nil, err
	}
	r.register(b, true)
	return b, nil
}

// Compact drops dead weak references and evicts dynamic entries older
// than maxAge (if configured). Intended to be called periodically.
func (r *Registry) Compact() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, e := range r.byID {
		_, live := resolve(e)
		aged := e.dynamic && r.maxAge > 0 && now.Sub(e.createdAt) > r.maxAge
		if !live || aged {
			delete(r.byID, id)
			r.removeFromNameIndexLocked(e)
			if !live {
				r.log.Debugw("registry: compacted dead entry", "name", e.name)
			} else {
				r.log.Debugw("registry: evicted aged dynamic entry", "name", e.name)
			}
		}
	}
}
