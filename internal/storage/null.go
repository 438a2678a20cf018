package storage

import (
	"context"
	"time"
)

// Null is the no-op backend: it never persists anything, returns zero
// counts, and a missing status on every read. Useful as a default when a
// breaker doesn't need durable counters (e.g. unit tests, or a breaker
// whose only purpose is the in-process state machine).
type Null struct{}

// NewNull returns a Null backend.
func NewNull() *Null { return &Null{} }

func (*Null) GetStatus(context.Context, string) (Status, bool, error) {
	return Status{}, false, nil
}

func (*Null) SetStatus(context.Context, string, Status) error { return nil }

func (*Null) RecordSuccess(context.Context, string, time.Duration) error { return nil }

func (*Null) RecordFailure(context.Context, string, time.Duration) error { return nil }

func (*Null) SuccessCount(context.Context, string, int64) (int64, error) { return 0, nil }

func (*Null) FailureCount(context.Context, string, int64) (int64, error) { return 0, nil }

func (*Null) RecordEvent(context.Context, string, Event) error { return nil }

func (*Null) EventLog(context.Context, string, int) ([]Event, error) { return nil, nil }

func (*Null) Clear(context.Context, string) error { return nil }

func (*Null) ClearAll(context.Context) error { return nil }

// WithTimeout passes op through untouched: the no-op backend cannot
// enforce a deadline because it never does any work to deadline.
func (*Null) WithTimeout(ctx context.Context, _ int64, op func(ctx context.Context) error) error {
	return op(ctx)
}
