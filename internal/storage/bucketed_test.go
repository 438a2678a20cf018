package storage

import (
	"context"
	"testing"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
)

func TestBucketedWindowSumAndRotation(t *testing.T) {
	mc := clock.NewManual(time.Unix(1000, 0))
	bk := NewBucketed(mc, 5, 16)
	ctx := context.Background()

	bk.RecordFailure(ctx, "svc", 0)
	bk.RecordFailure(ctx, "svc", 0)
	mc.Advance(time.Second)
	bk.RecordSuccess(ctx, "svc", 0)

	if n, _ := bk.FailureCount(ctx, "svc", 5); n != 2 {
		t.Errorf("FailureCount(5) = %d, want 2", n)
	}
	if n, _ := bk.SuccessCount(ctx, "svc", 5); n != 1 {
		t.Errorf("SuccessCount(5) = %d, want 1", n)
	}

	// Advance past the full ring size so every bucket rotates out.
	mc.Advance(10 * time.Second)
	if n, _ := bk.FailureCount(ctx, "svc", 5); n != 0 {
		t.Errorf("FailureCount(5) after full rotation = %d, want 0", n)
	}
	bk.RecordFailure(ctx, "svc", 0)
	if n, _ := bk.FailureCount(ctx, "svc", 5); n != 1 {
		t.Errorf("FailureCount(5) after a fresh record = %d, want 1", n)
	}
}

func TestBucketedWindowSpanClampedToRingSize(t *testing.T) {
	mc := clock.NewManual(time.Unix(1000, 0))
	bk := NewBucketed(mc, 3, 16) // ring smaller than the requested window
	ctx := context.Background()

	bk.RecordFailure(ctx, "svc", 0)
	mc.Advance(time.Second)
	bk.RecordFailure(ctx, "svc", 0)
	mc.Advance(time.Second)
	bk.RecordFailure(ctx, "svc", 0)

	// A 60-second window request is clamped to the 3-bucket ring.
	if n, _ := bk.FailureCount(ctx, "svc", 60); n != 3 {
		t.Errorf("FailureCount(60) with a 3-bucket ring = %d, want 3", n)
	}
}

func TestBucketedEventLogCapacityAndOrder(t *testing.T) {
	bk := NewBucketed(clock.System, DefaultBucketCount, 2)
	ctx := context.Background()
	bk.RecordEvent(ctx, "svc", Event{Kind: Success})
	bk.RecordEvent(ctx, "svc", Event{Kind: Failure})
	bk.RecordEvent(ctx, "svc", Event{Kind: Rejection})

	log, _ := bk.EventLog(ctx, "svc", 0)
	if len(log) != 2 {
		t.Fatalf("EventLog length = %d, want 2 (capacity-bounded)", len(log))
	}
	if log[0].Kind != Failure || log[1].Kind != Rejection {
		t.Errorf("EventLog = %+v, want [Failure Rejection]", log)
	}
}

func TestBucketedClearAndClearAll(t *testing.T) {
	bk := NewBucketed(clock.System, DefaultBucketCount, 16)
	ctx := context.Background()
	bk.SetStatus(ctx, "svc", Status{State: "open"})
	bk.RecordFailure(ctx, "svc", 0)

	bk.Clear(ctx, "svc")
	if _, ok, _ := bk.GetStatus(ctx, "svc"); ok {
		t.Errorf("GetStatus after Clear: ok = true, want false")
	}
	if n, _ := bk.FailureCount(ctx, "svc", 60); n != 0 {
		t.Errorf("FailureCount after Clear = %d, want 0", n)
	}

	bk.SetStatus(ctx, "other", Status{State: "closed"})
	bk.ClearAll(ctx)
	if _, ok, _ := bk.GetStatus(ctx, "other"); ok {
		t.Errorf("GetStatus after ClearAll: ok = true, want false")
	}
}
