// Package instrumentation implements the abstract instrumentation events
// of spec.md §6: opened, closed, half_opened, rejected, cascade_failure,
// emergency_protocol_triggered, storage_operation, storage_fallback,
// storage_backend_skipped, storage_backend_health, storage_chain_operation.
// Payloads are key-value, matching the spec's "payload is key-value"
// wording; this package supplies a no-op sink plus zap and Prometheus
// adapters, grounded on sneha4175-gateway-pro's logging/metrics wiring.
package instrumentation

// Fields is the key-value payload attached to an instrumentation event.
// Declared as an alias (not a distinct named type) so callers can build
// one with an ordinary map literal without importing this package just
// for the field type.
type Fields = map[string]interface{}

// Emitter receives breaker instrumentation events. Implementations must
// never block the call path or panic (spec.md §7: "Storage and
// instrumentation exceptions: never propagate out of the call path").
type Emitter interface {
	Opened(breaker string, f Fields)
	Closed(breaker string, f Fields)
	HalfOpened(breaker string, f Fields)
	Rejected(breaker string, f Fields)
	CascadeFailure(breaker string, f Fields)
	EmergencyProtocolTriggered(breaker string, f Fields)
	StorageOperation(breaker string, f Fields)
	StorageFallback(breaker string, f Fields)
	StorageBackendSkipped(breaker string, f Fields)
	StorageBackendHealth(breaker string, f Fields)
	StorageChainOperation(breaker string, f Fields)
}

// Noop discards every event. Used as the default Emitter so breakers
// never need a nil check before emitting.
type Noop struct{}

func (Noop) Opened(string, Fields)                     {}
func (Noop) Closed(string, Fields)                      {}
func (Noop) HalfOpened(string, Fields)                  {}
func (Noop) Rejected(string, Fields)                    {}
func (Noop) CascadeFailure(string, Fields)               {}
func (Noop) EmergencyProtocolTriggered(string, Fields)  {}
func (Noop) StorageOperation(string, Fields)            {}
func (Noop) StorageFallback(string, Fields)             {}
func (Noop) StorageBackendSkipped(string, Fields)       {}
func (Noop) StorageBackendHealth(string, Fields)        {}
func (Noop) StorageChainOperation(string, Fields)       {}

// Multi fans a single event out to every Emitter in the slice, in order.
// Useful for running zap logging and Prometheus metrics side by side.
type Multi []Emitter

func (m Multi) Opened(b string, f Fields) {
	for _, e := range m {
		e.Opened(b, f)
	}
}
func (m Multi) Closed(b string, f Fields) {
	for _, e := range m {
		e.Closed(b, f)
	}
}
func (m Multi) HalfOpened(b string, f Fields) {
	for _, e := range m {
		e.HalfOpened(b, f)
	}
}
func (m Multi) Rejected(b string, f Fields) {
	for _, e := range m {
		e.Rejected(b, f)
	}
}
func (m Multi) CascadeFailure(b string, f Fields) {
	for _, e := range m {
		e.CascadeFailure(b, f)
	}
}
func (m Multi) EmergencyProtocolTriggered(b string, f Fields) {
	for _, e := range m {
		e.EmergencyProtocolTriggered(b, f)
	}
}
func (m Multi) StorageOperation(b string, f Fields) {
	for _, e := range m {
		e.StorageOperation(b, f)
	}
}
func (m Multi) StorageFallback(b string, f Fields) {
	for _, e := range m {
		e.StorageFallback(b, f)
	}
}
func (m Multi) StorageBackendSkipped(b string, f Fields) {
	for _, e := range m {
		e.StorageBackendSkipped(b, f)
	}
}
func (m Multi) StorageBackendHealth(b string, f Fields) {
	for _, e := range m {
		e.StorageBackendHealth(b, f)
	}
}
func (m Multi) StorageChainOperation(b string, f Fields) {
	for _, e := range m {
		e.StorageChainOperation(b, f)
	}
}
