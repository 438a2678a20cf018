package instrumentation

import "go.uber.org/zap"

// Zap logs every instrumentation event through a *zap.SugaredLogger, the
// same sugared-logger call shape used throughout
// sneha4175-gateway-pro/cmd/gateway/main.go and
// internal/config/config.go (log.Infow/log.Warnw with alternating
// key-value pairs).
type Zap struct {
	log *zap.SugaredLogger
}

// NewZap wraps l. If l is nil, a no-op zap logger is used so callers
// never need a nil check.
func NewZap(l *zap.SugaredLogger) *Zap {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Zap{log: l}
}

func kvs(breaker string, f Fields) []interface{} {
	out := make([]interface{}, 0, 2+len(f)*2)
	out = append(out, "breaker", breaker)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}

func (z *Zap) Opened(b string, f Fields) { z.log.Warnw("circuit opened", kvs(b, f)...) }
func (z *Zap) Closed(b string, f Fields) { z.log.Infow("circuit closed", kvs(b, f)...) }
func (z *Zap) HalfOpened(b string, f Fields) { z.log.Infow("circuit half-opened", kvs(b, f)...) }
func (z *Zap) Rejected(b string, f Fields) { z.log.Debugw("call rejected", kvs(b, f)...) }
func (z *Zap) CascadeFailure(b string, f Fields) { z.log.Warnw("cascade force-opened dependent", kvs(b, f)...) }
func (z *Zap) EmergencyProtocolTriggered(b string, f Fields) {
	z.log.Errorw("emergency protocol triggered", kvs(b, f)...)
}
func (z *Zap) StorageOperation(b string, f Fields) { z.log.Debugw("storage operation", kvs(b, f)...) }
func (z *Zap) StorageFallback(b string, f Fields) { z.log.Warnw("storage fallback to next backend", kvs(b, f)...) }
func (z *Zap) StorageBackendSkipped(b string, f Fields) {
	z.log.Debugw("storage backend skipped (unhealthy)", kvs(b, f)...)
}
func (z *Zap) StorageBackendHealth(b string, f Fields) { z.log.Warnw("storage backend health changed", kvs(b, f)...) }
func (z *Zap) StorageChainOperation(b string, f Fields) {
	z.log.Debugw("storage chain operation", kvs(b, f)...)
}
