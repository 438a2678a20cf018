package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lattice-run/breaker/internal/clock"
)

// failingBackend wraps another Backend but forces every call to fail
// until disabled, so tests can drive chain failover deterministically
// without a real external dependency.
type failingBackend struct {
	Backend
	mu   sync.Mutex
	fail bool
}

func newFailingBackend() *failingBackend { return &failingBackend{Backend: NewFlat(clock.System, 16)} }

func (f *failingBackend) shouldFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *failingBackend) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingBackend) RecordFailure(ctx context.Context, name string, d time.Duration) error {
	if f.shouldFail() {
		return errors.New("backend down")
	}
	return f.Backend.RecordFailure(ctx, name, d)
}

type instrRecorder struct {
	mu        sync.Mutex
	skipped   []string
	fellBack  []string
	health    map[string]bool
	chainOK   []bool
}

func newInstrRecorder() *instrRecorder { return &instrRecorder{health: make(map[string]bool)} }

func (r *instrRecorder) OperationSuccess(string, string) {}
func (r *instrRecorder) FallbackToNext(from string, op string, err error) {
	r.mu.Lock()
	r.fellBack = append(r.fellBack, from)
	r.mu.Unlock()
}
func (r *instrRecorder) BackendSkipped(backend string, op string) {
	r.mu.Lock()
	r.skipped = append(r.skipped, backend)
	r.mu.Unlock()
}
func (r *instrRecorder) BackendHealthChanged(backend string, healthy bool) {
	r.mu.Lock()
	r.health[backend] = healthy
	r.mu.Unlock()
}
func (r *instrRecorder) ChainOperation(op string, ok bool) {
	r.mu.Lock()
	r.chainOK = append(r.chainOK, ok)
	r.mu.Unlock()
}

func TestChainFailsOverToNextMember(t *testing.T) {
	primary := newFailingBackend()
	primary.setFail(true)
	secondary := NewFlat(clock.System, 16)
	instr := newInstrRecorder()

	c := NewChain([]ChainMember{
		{Name: "primary", Backend: primary},
		{Name: "secondary", Backend: secondary},
	}, WithChainInstrumentation(instr))

	if err := c.RecordFailure(context.Background(), "svc", 0); err != nil {
		t.Fatalf("RecordFailure: unexpected error %v", err)
	}
	n, _ := secondary.FailureCount(context.Background(), "svc", 60)
	if n != 1 {
		t.Errorf("secondary FailureCount = %d, want 1 (fell through from primary)", n)
	}
	if len(instr.fellBack) != 1 || instr.fellBack[0] != "primary" {
		t.Errorf("fellBack = %v, want [primary]", instr.fellBack)
	}
}

func TestChainFlipsUnhealthyAfterThresholdAndSkips(t *testing.T) {
	primary := newFailingBackend()
	primary.setFail(true)
	secondary := NewFlat(clock.System, 16)
	instr := newInstrRecorder()

	c := NewChain([]ChainMember{
		{Name: "primary", Backend: primary},
		{Name: "secondary", Backend: secondary},
	}, WithChainThreshold(2), WithChainCoolOff(time.Hour), WithChainInstrumentation(instr))

	for i := 0; i < 2; i++ {
		c.RecordFailure(context.Background(), "svc", 0)
	}
	if instr.health["primary"] != false {
		t.Fatalf("primary health = %v, want false after hitting the threshold", instr.health["primary"])
	}

	// A third call should skip the now-unhealthy primary entirely.
	instr.mu.Lock()
	instr.skipped = nil
	instr.mu.Unlock()
	c.RecordFailure(context.Background(), "svc", 0)
	if len(instr.skipped) != 1 || instr.skipped[0] != "primary" {
		t.Errorf("skipped = %v, want [primary]", instr.skipped)
	}
}

func TestChainReturnsStorageExhaustedWhenAllFail(t *testing.T) {
	a := newFailingBackend()
	a.setFail(true)
	b := newFailingBackend()
	b.setFail(true)

	c := NewChain([]ChainMember{{Name: "a", Backend: a}, {Name: "b", Backend: b}})
	err := c.RecordFailure(context.Background(), "svc", 0)
	if !errors.Is(err, ErrStorageExhausted) {
		t.Fatalf("error = %v, want ErrStorageExhausted", err)
	}
}

func TestChainRecoversOnSuccessAfterCoolOff(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	primary := newFailingBackend()
	primary.setFail(true)
	secondary := NewFlat(clock.System, 16)
	instr := newInstrRecorder()

	c := NewChain([]ChainMember{
		{Name: "primary", Backend: primary},
		{Name: "secondary", Backend: secondary},
	}, WithChainThreshold(1), WithChainCoolOff(10*time.Second), WithChainClock(mc), WithChainInstrumentation(instr))

	c.RecordFailure(context.Background(), "svc", 0) // flips primary Unhealthy
	if instr.health["primary"] != false {
		t.Fatalf("primary health = %v, want false", instr.health["primary"])
	}

	mc.Advance(11 * time.Second) // cool-off elapsed, primary eligible again
	primary.setFail(false)
	c.RecordFailure(context.Background(), "svc", 0)
	if instr.health["primary"] != true {
		t.Fatalf("primary health = %v, want true after a post-cooloff success", instr.health["primary"])
	}
}
