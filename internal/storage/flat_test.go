package storage

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
)

func TestFlatWindowCounts(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	f := NewFlat(mc, 16)
	ctx := context.Background()

	f.RecordSuccess(ctx, "svc", 0)
	f.RecordFailure(ctx, "svc", 0)
	mc.Advance(30 * time.Second)
	f.RecordFailure(ctx, "svc", 0)

	if n, _ := f.FailureCount(ctx, "svc", 60); n != 2 {
		t.Errorf("FailureCount(60) = %d, want 2", n)
	}
	if n, _ := f.SuccessCount(ctx, "svc", 60); n != 1 {
		t.Errorf("SuccessCount(60) = %d, want 1", n)
	}

	mc.Advance(40 * time.Second) // first two events now 70s old, outside a 60s window
	if n, _ := f.FailureCount(ctx, "svc", 60); n != 1 {
		t.Errorf("FailureCount(60) after aging = %d, want 1", n)
	}
}

func TestFlatStatusRoundTrip(t *testing.T) {
	f := NewFlat(clock.System, 16)
	ctx := context.Background()

	if _, ok, _ := f.GetStatus(ctx, "svc"); ok {
		t.Fatalf("GetStatus on unseen name: ok = true, want false")
	}

	now := time.Now()
	f.SetStatus(ctx, "svc", Status{State: "open", OpenedAt: now})
	st, ok, _ := f.GetStatus(ctx, "svc")
	if !ok || st.State != "open" {
		t.Fatalf("GetStatus = %+v, ok=%v, want open/true", st, ok)
	}

	f.Clear(ctx, "svc")
	if _, ok, _ := f.GetStatus(ctx, "svc"); ok {
		t.Fatalf("GetStatus after Clear: ok = true, want false")
	}
}

func TestFlatEventLogNewestLast(t *testing.T) {
	f := NewFlat(clock.System, 2)
	ctx := context.Background()
	f.RecordEvent(ctx, "svc", Event{Kind: Success})
	f.RecordEvent(ctx, "svc", Event{Kind: Failure})
	f.RecordEvent(ctx, "svc", Event{Kind: Rejection})

	log, _ := f.EventLog(ctx, "svc", 0)
	if len(log) != 2 {
		t.Fatalf("EventLog length = %d, want 2 (capacity-bounded)", len(log))
	}
	if log[len(log)-1].Kind != Rejection {
		t.Errorf("last event kind = %v, want Rejection (newest-last)", log[len(log)-1].Kind)
	}
}
