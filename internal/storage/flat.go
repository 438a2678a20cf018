package storage

import (
	"context"
	"sync"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
)

// defaultRetention bounds how long a Flat backend keeps outcome events
// before evicting them, independent of any window a caller queries with.
const defaultRetention = 5 * time.Minute

// evictEveryInserts is K from spec.md §4.6: eviction runs lazily every
// K inserts rather than on every single one, the same amortized-sweep
// trade gateway-pro's rolling window makes inline in RecordFailure.
const evictEveryInserts = 32

type flatEntry struct {
	at      time.Time
	success bool
}

type flatBucket struct {
	mu      sync.Mutex
	entries []flatEntry
	events  []Event
	status  Status
	hasStat bool
	inserts int
}

// Flat is the flat in-process backend: a map from breaker name to a deque
// of timestamped success/failure outcomes, scanned and filtered by
// timestamp for window counts. Grounded on
// sneha4175-gateway-pro/internal/circuitbreaker/circuitbreaker.go's
// rolling window (record/evict-by-cutoff loop), generalized from a single
// fixed 10s window to an arbitrary windowSeconds per query.
type Flat struct {
	clock     clock.Clock
	retention time.Duration
	eventCap  int

	mu      sync.Mutex
	buckets map[string]*flatBucket
}

// NewFlat constructs a Flat backend. eventCap bounds the event log kept
// per breaker name (oldest evicted at capacity, per spec.md §3).
func NewFlat(c clock.Clock, eventCap int) *Flat {
	if c == nil {
		c = clock.System
	}
	if eventCap <= 0 {
		eventCap = 256
	}
	return &Flat{
		clock:     c,
		retention: defaultRetention,
		eventCap:  eventCap,
		buckets:   make(map[string]*flatBucket),
	}
}

func (f *Flat) bucket(name string) *flatBucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[name]
	if !ok {
		b = &flatBucket{}
		f.buckets[name] = b
	}
	return b
}

func (f *Flat) GetStatus(_ context.Context, name string) (Status, bool, error) {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.hasStat, nil
}

func (f *Flat) SetStatus(_ context.Context, name string, status Status) error {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.hasStat = true
	return nil
}

func (f *Flat) record(name string, success bool) {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, flatEntry{at: f.clock.Now(), success: success})
	b.inserts++
	if b.inserts%evictEveryInserts == 0 {
		f.evictLocked(b)
	}
}

// evictLocked drops entries older than the retention bound. Caller must
// hold b.mu.
func (f *Flat) evictLocked(b *flatBucket) {
	cutoff := f.clock.Now().Add(-f.retention)
	i := 0
	for i < len(b.entries) && b.entries[i].at.Before(cutoff) {
		i++
	}
	b.entries = b.entries[i:]
}

func (f *Flat) RecordSuccess(_ context.Context, name string, _ time.Duration) error {
	f.record(name, true)
	return nil
}

func (f *Flat) RecordFailure(_ context.Context, name string, _ time.Duration) error {
	f.record(name, false)
	return nil
}

func (f *Flat) count(name string, windowSeconds int64, wantSuccess bool) int64 {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := f.clock.Now().Add(-time.Duration(windowSeconds) * time.Second)
	var n int64
	for _, e := range b.entries {
		if e.at.Before(cutoff) {
			continue
		}
		if e.success == wantSuccess {
			n++
		}
	}
	return n
}

func (f *Flat) SuccessCount(_ context.Context, name string, windowSeconds int64) (int64, error) {
	return f.count(name, windowSeconds, true), nil
}

func (f *Flat) FailureCount(_ context.Context, name string, windowSeconds int64) (int64, error) {
	return f.count(name, windowSeconds, false), nil
}

func (f *Flat) RecordEvent(_ context.Context, name string, ev Event) error {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	if len(b.events) > f.eventCap {
		b.events = b.events[len(b.events)-f.eventCap:]
	}
	return nil
}

func (f *Flat) EventLog(_ context.Context, name string, limit int) ([]Event, error) {
	b := f.bucket(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.events) {
		limit = len(b.events)
	}
	out := make([]Event, limit)
	copy(out, b.events[len(b.events)-limit:])
	return out, nil
}

func (f *Flat) Clear(_ context.Context, name string) error {
	f.mu.Lock()
	delete(f.buckets, name)
	f.mu.Unlock()
	return nil
}

func (f *Flat) ClearAll(_ context.Context) error {
	f.mu.Lock()
	f.buckets = make(map[string]*flatBucket)
	f.mu.Unlock()
	return nil
}

// WithTimeout runs op directly: the in-process map has no I/O latency to
// bound, so a deadline would only ever be hit by a caller-supplied op that
// itself blocks — which op() here never does for this backend.
func (f *Flat) WithTimeout(ctx context.Context, _ int64, op func(ctx context.Context) error) error {
	return op(ctx)
}
