package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
)

// DefaultBucketCount is B from spec.md §4.6: a fixed ring of 300
// one-second buckets per breaker name.
const DefaultBucketCount = 300

// bucket holds atomic success/failure counters for one second of traffic,
// the same atomic-counter idiom the teacher uses for its own Counts
// fields (internal/breaker/circuitbreaker.go).
type bucket struct {
	success atomic.Int64
	failure atomic.Int64
	// sec is the absolute second index this bucket was last rotated to;
	// used to detect staleness during lazy rotation.
	sec atomic.Int64
}

type bucketedBucket struct {
	ring      []bucket
	baseSec   atomic.Int64 // absolute second the ring was last rotated to (0 = never)
	rotating  atomic.Bool  // CAS guard so only one goroutine rotates per tick
	mu        sync.Mutex   // guards events/status, not the ring
	events    []Event
	status    Status
	hasStatus bool
}

func newBucketedBucket(n int) *bucketedBucket {
	return &bucketedBucket{ring: make([]bucket, n)}
}

// Bucketed is the bucketed in-process backend: a fixed ring of B
// one-second buckets per breaker name, each with atomic counters. A
// compare-and-set rotation advances the ring lazily on access and zeroes
// any buckets skipped, per spec.md §4.6. Window counts sum the trailing
// min(W, B) buckets.
type Bucketed struct {
	clock    clock.Clock
	size     int
	eventCap int

	mu      sync.Mutex
	buckets map[string]*bucketedBucket
}

// NewBucketed constructs a Bucketed backend with a ring of size seconds
// per breaker name (DefaultBucketCount if size <= 0).
func NewBucketed(c clock.Clock, size, eventCap int) *Bucketed {
	if c == nil {
		c = clock.System
	}
	if size <= 0 {
		size = DefaultBucketCount
	}
	if eventCap <= 0 {
		eventCap = 256
	}
	return &Bucketed{clock: c, size: size, eventCap: eventCap, buckets: make(map[string]*bucketedBucket)}
}

func (bk *Bucketed) nameBucket(name string) *bucketedBucket {
	bk.mu.Lock()
	defer bk.mu.Unlock()
	b, ok := bk.buckets[name]
	if !ok {
		b = newBucketedBucket(bk.size)
		bk.buckets[name] = b
	}
	return b
}

// rotate advances the ring to the current second, zeroing any buckets
// the ring skipped over since the last access. Only one goroutine wins
// the CAS per tick; losers simply proceed to read/write the
// already-rotated ring (spec.md §5: "ring rotation uses compare-and-set
// so at most one rotator succeeds per tick").
func (bk *Bucketed) rotate(nb *bucketedBucket, nowSec int64) {
	if !nb.rotating.CompareAndSwap(false, true) {
		return
	}
	defer nb.rotating.Store(false)

	last := nb.baseSec.Load()
	if last == 0 {
		nb.baseSec.Store(nowSec)
		return
	}
	delta := nowSec - last
	if delta <= 0 {
		return
	}
	n := int64(len(nb.ring))
	toClear := delta
	if toClear > n {
		toClear = n
	}
	for i := int64(0); i < toClear; i++ {
		idx := ((last + i + 1) % n)
		nb.ring[idx].success.Store(0)
		nb.ring[idx].failure.Store(0)
		nb.ring[idx].sec.Store(last + i + 1)
	}
	nb.baseSec.Store(nowSec)
}

func (bk *Bucketed) currentIndex(nb *bucketedBucket, nowSec int64) int {
	n := int64(len(nb.ring))
	idx := ((nowSec % n) + n) % n
	if nb.ring[idx].sec.Load() != nowSec {
		nb.ring[idx].success.Store(0)
		nb.ring[idx].failure.Store(0)
		nb.ring[idx].sec.Store(nowSec)
	}
	return int(idx)
}

func (bk *Bucketed) record(name string, success bool) {
	nb := bk.nameBucket(name)
	nowSec := bk.clock.Now().Unix()
	bk.rotate(nb, nowSec)
	idx := bk.currentIndex(nb, nowSec)
	if success {
		nb.ring[idx].success.Add(1)
	} else {
		nb.ring[idx].failure.Add(1)
	}
}

func (bk *Bucketed) GetStatus(_ context.Context, name string) (Status, bool, error) {
	nb := bk.nameBucket(name)
	nb.mu.Lock()
	defer nb.mu.Unlock()
	return nb.status, nb.hasStatus, nil
}

func (bk *Bucketed) SetStatus(_ context.Context, name string, status Status) error {
	nb := bk.nameBucket(name)
	nb.mu.Lock()
	nb.status = status
	nb.hasStatus = true
	nb.mu.Unlock()
	return nil
}

func (bk *Bucketed) RecordSuccess(_ context.Context, name string, _ time.Duration) error {
	bk.record(name, true)
	return nil
}

func (bk *Bucketed) RecordFailure(_ context.Context, name string, _ time.Duration) error {
	bk.record(name, false)
	return nil
}

func (bk *Bucketed) windowSum(name string, windowSeconds int64, success bool) int64 {
	nb := bk.nameBucket(name)
	nowSec := bk.clock.Now().Unix()
	bk.rotate(nb, nowSec)

	n := int64(len(nb.ring))
	span := windowSeconds
	if span > n {
		span = n
	}
	var total int64
	for i := int64(0); i < span; i++ {
		sec := nowSec - i
		idx := ((sec % n) + n) % n
		if nb.ring[idx].sec.Load() != sec {
			continue // bucket belongs to a different second, treat as empty
		}
		if success {
			total += nb.ring[idx].success.Load()
		} else {
			total += nb.ring[idx].failure.Load()
		}
	}
	return total
}

func (bk *Bucketed) SuccessCount(_ context.Context, name string, windowSeconds int64) (int64, error) {
	return bk.windowSum(name, windowSeconds, true), nil
}

func (bk *Bucketed) FailureCount(_ context.Context, name string, windowSeconds int64) (int64, error) {
	return bk.windowSum(name, windowSeconds, false), nil
}

func (bk *Bucketed) RecordEvent(_ context.Context, name string, ev Event) error {
	nb := bk.nameBucket(name)
	nb.mu.Lock()
	defer nb.mu.Unlock()
	nb.events = append(nb.events, ev)
	if len(nb.events) > bk.eventCap {
		nb.events = nb.events[len(nb.events)-bk.eventCap:]
	}
	return nil
}

func (bk *Bucketed) EventLog(_ context.Context, name string, limit int) ([]Event, error) {
	nb := bk.nameBucket(name)
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if limit <= 0 || limit > len(nb.events) {
		limit = len(nb.events)
	}
	out := make([]Event, limit)
	copy(out, nb.events[len(nb.events)-limit:])
	return out, nil
}

func (bk *Bucketed) Clear(_ context.Context, name string) error {
	bk.mu.Lock()
	delete(bk.buckets, name)
	bk.mu.Unlock()
	return nil
}

func (bk *Bucketed) ClearAll(_ context.Context) error {
	bk.mu.Lock()
	bk.buckets = make(map[string]*bucketedBucket)
	bk.mu.Unlock()
	return nil
}

// WithTimeout runs op directly; bucket reads/writes are in-memory atomics
// with no meaningful deadline to enforce.
func (bk *Bucketed) WithTimeout(ctx context.Context, _ int64, op func(ctx context.Context) error) error {
	return op(ctx)
}
