package core

import (
	"context"

	"github.com/lattice-run/breaker/internal/storage"
)

// transition performs an atomic from->to CAS. On success it runs
// onCommit (counter resets etc.) before persisting and emitting, so
// storage/instrumentation always observe post-commit state. Returns
// false if another goroutine already moved the state away from from.
func (b *Breaker) transition(from, to State, onCommit func()) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if onCommit != nil {
		onCommit()
	}
	b.persistAndEmit(to)
	return true
}

func (b *Breaker) persistAndEmit(to State) {
	ctx := context.Background()
	status := storage.Status{State: to.String()}
	if to == StateOpen {
		status.OpenedAt = b.clock.Now()
	}
	_ = b.store.SetStatus(ctx, b.name, status)
	_ = b.store.RecordEvent(ctx, b.name, storage.Event{
		Kind: storage.StateChange, At: b.clock.Now(), NewState: to.String(),
	})

	switch to {
	case StateOpen:
		b.emit.Opened(b.name, nil)
		if b.cfg.OnOpen != nil {
			b.safeCallback(func() { b.cfg.OnOpen(b.name) })
		}
	case StateClosed:
		b.emit.Closed(b.name, nil)
		if b.cfg.OnClose != nil {
			b.safeCallback(func() { b.cfg.OnClose(b.name) })
		}
	case StateHalfOpen:
		b.emit.HalfOpened(b.name, nil)
		if b.cfg.OnHalfOpen != nil {
			b.safeCallback(func() { b.cfg.OnHalfOpen(b.name) })
		}
	}
}

// safeCallback runs a user hook with panic recovery: a misbehaving
// callback must never take down the call path (spec.md §7).
func (b *Breaker) safeCallback(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// trip moves the breaker to Open from whatever state it is currently in
// (Closed or HalfOpen), recording openedAt and resetting half-open
// counters. A no-op if already Open.
func (b *Breaker) trip(ctx context.Context) {
	for {
		cur := b.State()
		if cur == StateOpen {
			return
		}
		if b.transition(cur, StateOpen, func() {
			b.openedAt.Store(b.clock.Now().UnixNano())
			b.halfOpenAttempts.Store(0)
			b.halfOpenSuccesses.Store(0)
		}) {
			return
		}
		// Lost the CAS race; re-read and retry.
	}
}

// reset moves the breaker to Closed (the successful-recovery path from
// HalfOpen, or an administrative reset). Unlike HardReset, Reset carries
// no storage-clear side effect (spec.md §4.1 distinguishes the two
// transitions explicitly: only HardReset clears storage) — the window
// history simply ages out of the trailing interval on its own.
func (b *Breaker) reset(ctx context.Context) {
	if b.guards.canReset != nil && !b.guards.canReset() {
		return
	}
	for {
		cur := b.State()
		if cur == StateClosed {
			return
		}
		if b.transition(cur, StateClosed, func() {
			b.openedAt.Store(0)
			b.halfOpenAttempts.Store(0)
			b.halfOpenSuccesses.Store(0)
		}) {
			return
		}
	}
}

// Reset administratively applies the coordinated-guard-checked Reset
// transition of spec.md §4.1 (Open/HalfOpen/Closed -> Closed). Returns
// DependencyUnmetError if a coordinated breaker's dependencies block it;
// ForceClose is the unconditional operator override for that case.
func (b *Breaker) Reset() error {
	if b.guards.canReset != nil && !b.guards.canReset() {
		return &DependencyUnmetError{Name: b.name}
	}
	b.reset(context.Background())
	return nil
}

// AttemptRecovery administratively applies the coordinated-guard-checked
// Open -> HalfOpen transition of spec.md §4.1, regardless of whether the
// reset-timeout has elapsed. Returns DependencyUnmetError if a
// coordinated breaker's dependencies block it.
func (b *Breaker) AttemptRecovery() error {
	if b.State() != StateOpen {
		return nil
	}
	if b.guards.canAttemptRecovery != nil && !b.guards.canAttemptRecovery() {
		return &DependencyUnmetError{Name: b.name}
	}
	b.transition(StateOpen, StateHalfOpen, func() {
		b.halfOpenAttempts.Store(0)
		b.halfOpenSuccesses.Store(0)
	})
	return nil
}

// ForceOpen administratively trips the breaker regardless of its
// current window state (spec.md §4.7, registry force-open-by-name).
func (b *Breaker) ForceOpen() {
	b.trip(context.Background())
}

// ForceClose administratively resets the breaker to Closed, bypassing
// the coordinated-guard check that Reset applies (an operator override
// always wins, per spec.md §4.1's ForceClose: "any -> Closed").
func (b *Breaker) ForceClose() {
	for {
		cur := b.State()
		if cur == StateClosed {
			return
		}
		if b.transition(cur, StateClosed, func() {
			b.openedAt.Store(0)
			b.halfOpenAttempts.Store(0)
			b.halfOpenSuccesses.Store(0)
		}) {
			return
		}
	}
}

// HardReset clears all stored history and counters and forces Closed,
// as if the breaker had just been constructed (spec.md §4.7).
func (b *Breaker) HardReset() {
	ctx := context.Background()
	_ = b.store.Clear(ctx, b.name)
	b.state.Store(int32(StateClosed))
	b.openedAt.Store(0)
	b.halfOpenAttempts.Store(0)
	b.halfOpenSuccesses.Store(0)
	b.setLastError(nil)
}
