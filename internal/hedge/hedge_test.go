package hedge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestRunFirstSuccessWins covers spec.md §8 scenario 5: distinct backends
// returning after {200,80,40}ms race from t=0 with no stagger (they are
// independent downstreams, not copies of one op hitting the same target),
// so the fastest backend's result ("C", at 40ms) wins outright. Config's
// Delay is set here specifically to prove RunBackends ignores it — with
// Run's per-copy stagger applied instead, backend index 1 ("B") would
// complete at 50+80=130ms and beat backend index 2's 100+40=140ms,
// contradicting the documented result.
func TestRunFirstSuccessWins(t *testing.T) {
	delays := []time.Duration{200 * time.Millisecond, 80 * time.Millisecond, 40 * time.Millisecond}
	values := []interface{}{"A", "B", "C"}
	ops := make([]Op, len(delays))
	for i := range delays {
		i := i
		ops[i] = func(ctx context.Context) (interface{}, error) {
			select {
			case <-time.After(delays[i]):
				return values[i], nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	v, err := RunBackends(context.Background(), Config{Delay: 50 * time.Millisecond, MaxRequests: len(ops)}, ops)
	if err != nil {
		t.Fatalf("RunBackends: unexpected error %v", err)
	}
	if v != "C" {
		t.Fatalf("result = %v, want C (the fastest backend)", v)
	}
}

// TestRunStaggersSameOpCopies covers spec.md §4.4's stagger rule for Run's
// case (repeated copies of one op, unlike RunBackends' distinct-backend
// case, which races unstaggered from t=0): copy 0 always fails
// immediately, so the winning result can only come from copy 1 or later,
// each of which must wait until Delay*i has elapsed before even starting.
// Total wall-clock time must therefore be at least Delay, not near-zero.
func TestRunStaggersSameOpCopies(t *testing.T) {
	delay := 80 * time.Millisecond
	var first atomic.Bool
	op := func(ctx context.Context) (interface{}, error) {
		if first.CompareAndSwap(false, true) {
			return nil, errors.New("copy 0 always fails immediately")
		}
		return "ok", nil
	}

	started := time.Now()
	v, err := Run(context.Background(), Config{Delay: delay, MaxRequests: 3}, op)
	elapsed := time.Since(started)
	if err != nil {
		t.Fatalf("Run: unexpected error %v", err)
	}
	if v != "ok" {
		t.Fatalf("result = %v, want ok", v)
	}
	if elapsed < delay {
		t.Fatalf("elapsed = %v, want >= %v (copy 1 must not start before Delay*1 elapses)", elapsed, delay)
	}
}

func TestRunAllFail(t *testing.T) {
	wantErr := errors.New("always fails")
	op := func(ctx context.Context) (interface{}, error) { return nil, wantErr }

	_, err := Run(context.Background(), Config{MaxRequests: 3}, op)
	if err != wantErr {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}

func TestRunDeadlineExceeded(t *testing.T) {
	op := func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_, err := Run(context.Background(), Config{MaxRequests: 1, Deadline: 20 * time.Millisecond}, op)
	if err != context.DeadlineExceeded {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

// TestRunBackendsReplacesOp covers spec.md §4.4: when Backends is
// supplied, each element is an independent operation racing concurrently
// from t=0, not staggered copies of a single op.
func TestRunBackendsReplacesOp(t *testing.T) {
	ops := []Op{
		func(ctx context.Context) (interface{}, error) { return nil, errors.New("first fails") },
		func(ctx context.Context) (interface{}, error) { return "second wins", nil },
	}
	v, err := RunBackends(context.Background(), Config{MaxRequests: 99}, ops)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if v != "second wins" {
		t.Fatalf("result = %v, want 'second wins'", v)
	}
}
