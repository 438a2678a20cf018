package core

import (
	"context"
	"time"

	"github.com/lattice-run/breaker/internal/storage"
)

// Stats is a point-in-time snapshot of a breaker's observable state
// (spec.md §6, "stats() → StatsSnapshot").
type Stats struct {
	Name              string
	State             State
	OpenedAt          time.Time
	HalfOpenAttempts  int32
	HalfOpenSuccesses int32
	LastError         error
	WindowFailures    int64
	WindowSuccesses   int64
}

// Stats returns a snapshot of the breaker's runtime state, including the
// current sliding-window failure/success counts.
func (b *Breaker) Stats(ctx context.Context) Stats {
	s := Stats{
		Name:              b.name,
		State:             b.State(),
		HalfOpenAttempts:  b.halfOpenAttempts.Load(),
		HalfOpenSuccesses: b.halfOpenSuccesses.Load(),
		LastError:         b.lastError(),
	}
	if at := b.openedAt.Load(); at != 0 {
		s.OpenedAt = time.Unix(0, at)
	}
	s.WindowFailures, _ = b.store.FailureCount(ctx, b.name, b.cfg.FailureWindow)
	s.WindowSuccesses, _ = b.store.SuccessCount(ctx, b.name, b.cfg.FailureWindow)
	return s
}

// EventLog returns the most recent events recorded for this breaker,
// newest-last, bounded by the store's own retention/capacity (spec.md
// §4.6).
func (b *Breaker) EventLog(ctx context.Context, limit int) ([]storage.Event, error) {
	return b.store.EventLog(ctx, b.name, limit)
}
