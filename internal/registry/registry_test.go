package registry

import (
	"runtime"
	"testing"
	"time"

	"github.com/lattice-run/breaker/internal/core"
	"github.com/lattice-run/breaker/internal/storage"
)

func newTestBreaker(t *testing.T, name string) *core.Breaker {
	t.Helper()
	b, err := core.New(core.Config{Name: name, FailureThreshold: 1000, FailureWindow: 60}, storage.NewNull())
	if err != nil {
		t.Fatalf("core.New(%s): %v", name, err)
	}
	return b
}

func TestRegisterFindAndSummarize(t *testing.T) {
	r := New()
	b1 := newTestBreaker(t, "svc")
	b2 := newTestBreaker(t, "svc")
	r.Register(b1)
	r.Register(b2)

	if got := r.FindAllByName("svc"); len(got) != 2 {
		t.Fatalf("FindAllByName = %d entries, want 2", len(got))
	}
	if _, ok := r.FindFirstByName("missing"); ok {
		t.Fatalf("FindFirstByName(missing) = true, want false")
	}

	b1.ForceOpen()
	s := r.Summarize()
	if s.Total != 2 {
		t.Errorf("Summarize().Total = %d, want 2", s.Total)
	}
	if s.ByState[core.StateOpen] != 1 || s.ByState[core.StateClosed] != 1 {
		t.Errorf("Summarize().ByState = %+v, want 1 Open and 1 Closed", s.ByState)
	}
	if s.ByName["svc"] != 2 {
		t.Errorf("Summarize().ByName[svc] = %d, want 2", s.ByName["svc"])
	}
}

func TestForceOpenCloseResetByName(t *testing.T) {
	r := New()
	b := newTestBreaker(t, "svc")
	r.Register(b)

	if n := r.ForceOpenByName("svc"); n != 1 {
		t.Fatalf("ForceOpenByName = %d, want 1", n)
	}
	if b.State() != core.StateOpen {
		t.Fatalf("state = %v, want Open", b.State())
	}

	if n := r.ForceCloseByName("svc"); n != 1 {
		t.Fatalf("ForceCloseByName = %d, want 1", n)
	}
	if b.State() != core.StateClosed {
		t.Fatalf("state = %v, want Closed", b.State())
	}

	b.ForceOpen()
	if n := r.ResetByName("svc"); n != 1 {
		t.Fatalf("ResetByName = %d, want 1", n)
	}
	if b.State() != core.StateClosed {
		t.Fatalf("state after ResetByName = %v, want Closed", b.State())
	}
}

func TestGetOrCreateReusesLiveEntry(t *testing.T) {
	r := New()
	calls := 0
	create := func() (Breaker, error) {
		calls++
		return newTestBreaker(t, "dyn"), nil
	}

	b1, err := r.GetOrCreate("dyn", create)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b2, err := r.GetOrCreate("dyn", create)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if calls != 1 {
		t.Fatalf("create called %d times, want 1 (second call should reuse the live entry)", calls)
	}
	if b1 != b2 {
		t.Fatalf("GetOrCreate returned different breakers on the second call")
	}
}

func TestGetOrCreateReplacesStaleEntry(t *testing.T) {
	r := New()
	create := func() (Breaker, error) {
		b, _ := core.New(core.Config{Name: "dyn", FailureThreshold: 1000, FailureWindow: 60}, storage.NewNull())
		return b, nil
	}

	func() {
		b, err := r.GetOrCreate("dyn", create)
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		_ = b
	}()
	// b above is now unreachable; force a GC so its weak reference clears.
	runtime.GC()
	runtime.GC()

	b2, err := r.GetOrCreate("dyn", create)
	if err != nil {
		t.Fatalf("GetOrCreate after staleness: %v", err)
	}
	if b2 == nil {
		t.Fatalf("GetOrCreate returned nil after replacing a stale entry")
	}
}

func TestCompactDropsDeadAndAgedEntries(t *testing.T) {
	r := New(WithMaxAge(10 * time.Millisecond))
	create := func() (Breaker, error) { return newTestBreaker(t, "dyn"), nil }
	if _, err := r.GetOrCreate("dyn", create); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	r.Compact()

	if _, ok := r.FindFirstByName("dyn"); ok {
		t.Fatalf("FindFirstByName(dyn) = true after Compact aged it out, want false")
	}
}
