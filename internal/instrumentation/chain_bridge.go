package instrumentation

import "github.com/lattice-run/breaker/internal/storage"

// ChainBridge adapts an Emitter (keyed by breaker name) into
// storage.ChainInstrumentation (keyed by backend name), so a single
// Emitter can back both the breaker-level events of §6 and the
// storage-chain-level events the chain backend raises internally.
// Storage is a leaf dependency (spec.md §9) — the bridge only forwards
// outward to the Emitter, it never reaches back into a breaker.
type ChainBridge struct {
	Breaker string
	Emitter Emitter
}

func (c ChainBridge) OperationSuccess(backend, op string) {
	c.Emitter.StorageOperation(c.Breaker, Fields{"backend": backend, "op": op})
}

func (c ChainBridge) FallbackToNext(fromBackend, op string, err error) {
	c.Emitter.StorageFallback(c.Breaker, Fields{"backend": fromBackend, "op": op, "error": err.Error()})
}

func (c ChainBridge) BackendSkipped(backend, op string) {
	c.Emitter.StorageBackendSkipped(c.Breaker, Fields{"backend": backend, "op": op})
}

func (c ChainBridge) BackendHealthChanged(backend string, healthy bool) {
	c.Emitter.StorageBackendHealth(c.Breaker, Fields{"backend": backend, "healthy": healthy})
}

func (c ChainBridge) ChainOperation(op string, ok bool) {
	c.Emitter.StorageChainOperation(c.Breaker, Fields{"op": op, "ok": ok})
}

var _ storage.ChainInstrumentation = ChainBridge{}
