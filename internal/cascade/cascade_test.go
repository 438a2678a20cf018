package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lattice-run/breaker/internal/core"
	"github.com/lattice-run/breaker/internal/storage"
)

// fakeRegistry implements Resolver over a plain map, standing in for
// internal/registry.Registry in tests that don't need weak-reference
// semantics.
type fakeRegistry struct {
	mu       sync.Mutex
	breakers map[string]*core.Breaker
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{breakers: make(map[string]*core.Breaker)} }

func (r *fakeRegistry) add(b *core.Breaker) {
	r.mu.Lock()
	r.breakers[b.Name()] = b
	r.mu.Unlock()
}

func (r *fakeRegistry) FindFirstByName(name string) (*core.Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

func newTestBreaker(t *testing.T, name string) *core.Breaker {
	t.Helper()
	b, err := core.New(core.Config{Name: name, FailureThreshold: 1000, FailureWindow: 60}, storage.NewNull())
	if err != nil {
		t.Fatalf("core.New(%s): %v", name, err)
	}
	return b
}

// TestCascadeForceOpensOnlyNonOpenDependents covers spec.md §8 scenario
// 6: source S with dependents {X, Y, Z}, X pre-opened. Tripping S
// force-opens Y and Z only; the emergency hook is invoked once with
// exactly {Y, Z}.
func TestCascadeForceOpensOnlyNonOpenDependents(t *testing.T) {
	reg := newFakeRegistry()
	x := newTestBreaker(t, "X")
	y := newTestBreaker(t, "Y")
	z := newTestBreaker(t, "Z")
	reg.add(x)
	reg.add(y)
	reg.add(z)
	x.ForceOpen()

	var hookArg []string
	var hookCalls int
	coord := New(Config{
		SourceName: "S",
		Dependents: []string{"X", "Y", "Z"},
		Registry:   reg,
		EmergencyHook: func(forced []string) {
			hookCalls++
			hookArg = append([]string(nil), forced...)
		},
	})

	coord.Cascade()

	if y.State() != core.StateOpen {
		t.Errorf("Y state = %v, want Open", y.State())
	}
	if z.State() != core.StateOpen {
		t.Errorf("Z state = %v, want Open", z.State())
	}
	if hookCalls != 1 {
		t.Fatalf("emergency hook calls = %d, want 1", hookCalls)
	}
	if len(hookArg) != 2 || hookArg[0] != "Y" || hookArg[1] != "Z" {
		t.Errorf("hook arg = %v, want [Y Z]", hookArg)
	}
}

func TestCascadeSkipsUnresolvedDependents(t *testing.T) {
	reg := newFakeRegistry()
	coord := New(Config{SourceName: "S", Dependents: []string{"ghost"}, Registry: reg})
	coord.Cascade() // must not panic on an unresolved peer
	if coord.Info().FirstCascade.IsZero() == false {
		t.Errorf("FirstCascade should stay zero when nothing was force-opened")
	}
}

func TestCoordinatedGuardsBlockOnOpenDependency(t *testing.T) {
	reg := newFakeRegistry()
	dep := newTestBreaker(t, "dep")
	reg.add(dep)
	dep.ForceOpen()

	coord := New(Config{SourceName: "S", Dependents: []string{"dep"}, Registry: reg})
	if coord.CanAttemptRecovery() {
		t.Errorf("CanAttemptRecovery = true while dependency is Open, want false")
	}
	if coord.CanReset() {
		t.Errorf("CanReset = true while dependency is Open, want false")
	}

	dep.ForceClose()
	if !coord.CanAttemptRecovery() {
		t.Errorf("CanAttemptRecovery = false once dependency is Closed, want true")
	}
	if !coord.CanReset() {
		t.Errorf("CanReset = false once dependency is Closed, want true")
	}
}

func TestNewBreakerWiresGuardsAndCascade(t *testing.T) {
	reg := newFakeRegistry()
	dep := newTestBreaker(t, "dep")
	reg.add(dep)

	coord := New(Config{SourceName: "S", Dependents: []string{"dep"}, Registry: reg})
	src, err := coord.NewBreaker(core.Config{Name: "S", FailureThreshold: 1, FailureWindow: 60}, storage.NewFlat(nil, 16))
	if err != nil {
		t.Fatalf("NewBreaker: %v", err)
	}
	reg.add(src)

	errTest := errors.New("boom")
	src.Call(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, errTest })
	if src.State() != core.StateOpen {
		t.Fatalf("state = %v, want Open", src.State())
	}
	if dep.State() != core.StateOpen {
		t.Fatalf("dependent state = %v, want Open (cascaded on trip)", dep.State())
	}
}
