package core

import "sync"

// FallbackKind selects one of the four fallback shapes of spec.md §7.
type FallbackKind int

const (
	// FallbackStatic always returns the same value.
	FallbackStatic FallbackKind = iota
	// FallbackCallable computes a value from the triggering error.
	FallbackCallable
	// FallbackSequence tries each entry in order until one succeeds.
	FallbackSequence
	// FallbackParallel races every entry concurrently; first success wins.
	FallbackParallel
)

// FallbackSpec describes what to return in place of a rejected or failed
// call (spec.md §7). Exactly one of the constructors below should be used
// to build a value; the Kind field selects which fields are meaningful.
type FallbackSpec struct {
	Kind FallbackKind

	// Value is used when Kind == FallbackStatic.
	Value interface{}

	// Fn is used when Kind == FallbackCallable.
	Fn func(triggerErr error) (interface{}, error)

	// Sequence is used when Kind == FallbackSequence: tried in order,
	// first success wins.
	Sequence []*FallbackSpec

	// Parallel is used when Kind == FallbackParallel: raced
	// concurrently, first success wins.
	Parallel []*FallbackSpec
}

// StaticFallback returns a FallbackSpec that always yields v.
func StaticFallback(v interface{}) *FallbackSpec {
	return &FallbackSpec{Kind: FallbackStatic, Value: v}
}

// CallableFallback returns a FallbackSpec computed from the error that
// triggered the fallback.
func CallableFallback(fn func(error) (interface{}, error)) *FallbackSpec {
	return &FallbackSpec{Kind: FallbackCallable, Fn: fn}
}

// SequenceFallback tries each spec in order until one succeeds.
func SequenceFallback(specs ...*FallbackSpec) *FallbackSpec {
	return &FallbackSpec{Kind: FallbackSequence, Sequence: specs}
}

// ParallelFallback races every spec concurrently; first success wins. If
// all fail, the caller receives a ParallelFallbackFailedError carrying
// every collected error (spec.md §7).
func ParallelFallback(specs ...*FallbackSpec) *FallbackSpec {
	return &FallbackSpec{Kind: FallbackParallel, Parallel: specs}
}

// resolveFallback evaluates spec against triggerErr (the error that caused the
// fallback to run: CircuitOpenError, BulkheadFullError, or the classified
// operation failure).
func resolveFallback(spec *FallbackSpec, triggerErr error) (interface{}, error) {
	switch spec.Kind {
	case FallbackStatic:
		return spec.Value, nil
	case FallbackCallable:
		return spec.Fn(triggerErr)
	case FallbackSequence:
		var lastErr error = triggerErr
		for _, s := range spec.Sequence {
			v, err := resolveFallback(s, lastErr)
			if err == nil {
				return v, nil
			}
			lastErr = err
		}
		return nil, lastErr
	case FallbackParallel:
		return resolveParallel(spec.Parallel, triggerErr)
	default:
		return nil, triggerErr
	}
}

func resolveParallel(specs []*FallbackSpec, triggerErr error) (interface{}, error) {
	type result struct {
		v   interface{}
		err error
	}
	results := make(chan result, len(specs))
	var wg sync.WaitGroup
	for _, s := range specs {
		wg.Add(1)
		go func(s *FallbackSpec) {
			defer wg.Done()
			v, err := resolveFallback(s, triggerErr)
			results <- result{v, err}
		}(s)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for r := range results {
		if r.err == nil {
			return r.v, nil
		}
		errs = append(errs, r.err)
	}
	return nil, &ParallelFallbackFailedError{Errors: errs}
}
