package core

// bulkhead is a non-blocking counting semaphore of Config.MaxConcurrent
// permits (spec.md §5). tryAcquire never blocks; release is always safe
// to call even when the bulkhead is disabled (limit == 0).
type bulkhead struct {
	limit int
	slots chan struct{}
}

func newBulkhead(limit int) *bulkhead {
	if limit <= 0 {
		return &bulkhead{limit: 0}
	}
	return &bulkhead{limit: limit, slots: make(chan struct{}, limit)}
}

// enabled reports whether this bulkhead enforces a limit at all.
func (b *bulkhead) enabled() bool { return b.limit > 0 }

// tryAcquire attempts to take one permit without blocking. Always
// succeeds when the bulkhead is disabled.
func (b *bulkhead) tryAcquire() bool {
	if !b.enabled() {
		return true
	}
	select {
	case b.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// release returns a permit. Safe to call unconditionally on every exit
// path (spec.md §3 invariant 7) as long as it pairs with a successful
// tryAcquire.
func (b *bulkhead) release() {
	if !b.enabled() {
		return
	}
	select {
	case <-b.slots:
	default:
	}
}
