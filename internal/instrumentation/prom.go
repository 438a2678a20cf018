package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prom exports circuit breaker instrumentation as Prometheus metrics,
// grounded on sneha4175-gateway-pro/internal/middleware/middleware.go's
// promauto.NewCounterVec/NewGauge registration style.
type Prom struct {
	stateChanges  *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	cascades      *prometheus.CounterVec
	emergencies   *prometheus.CounterVec
	storageOps    *prometheus.CounterVec
	storageHealth *prometheus.GaugeVec
}

// NewProm registers the metric families against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration
// panics across test runs.
func NewProm(reg prometheus.Registerer) *Prom {
	factory := promauto.With(reg)
	return &Prom{
		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitbreaker_state_changes_total",
			Help: "Circuit breaker state transitions by target state.",
		}, []string{"breaker", "state"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitbreaker_rejections_total",
			Help: "Calls rejected by an open circuit or full bulkhead.",
		}, []string{"breaker", "reason"}),
		cascades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitbreaker_cascade_failures_total",
			Help: "Dependent breakers force-opened by a cascade.",
		}, []string{"breaker", "dependent"}),
		emergencies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitbreaker_emergency_protocol_total",
			Help: "Emergency hook invocations triggered by a cascade.",
		}, []string{"breaker"}),
		storageOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "circuitbreaker_storage_operations_total",
			Help: "Storage backend operations by outcome.",
		}, []string{"breaker", "backend", "op", "outcome"}),
		storageHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuitbreaker_storage_backend_healthy",
			Help: "1 if a fallback-chain backend is currently healthy, else 0.",
		}, []string{"breaker", "backend"}),
	}
}

func str(f Fields, key string) string {
	if v, ok := f[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (p *Prom) Opened(b string, f Fields)     { p.stateChanges.WithLabelValues(b, "open").Inc() }
func (p *Prom) Closed(b string, f Fields)     { p.stateChanges.WithLabelValues(b, "closed").Inc() }
func (p *Prom) HalfOpened(b string, f Fields) { p.stateChanges.WithLabelValues(b, "half_open").Inc() }

func (p *Prom) Rejected(b string, f Fields) {
	reason := str(f, "reason")
	if reason == "" {
		reason = "circuit_open"
	}
	p.rejections.WithLabelValues(b, reason).Inc()
}

func (p *Prom) CascadeFailure(b string, f Fields) {
	p.cascades.WithLabelValues(b, str(f, "dependent")).Inc()
}

func (p *Prom) EmergencyProtocolTriggered(b string, f Fields) {
	p.emergencies.WithLabelValues(b).Inc()
}

func (p *Prom) StorageOperation(b string, f Fields) {
	p.storageOps.WithLabelValues(b, str(f, "backend"), str(f, "op"), "success").Inc()
}

func (p *Prom) StorageFallback(b string, f Fields) {
	p.storageOps.WithLabelValues(b, str(f, "backend"), str(f, "op"), "fallback").Inc()
}

func (p *Prom) StorageBackendSkipped(b string, f Fields) {
	p.storageOps.WithLabelValues(b, str(f, "backend"), str(f, "op"), "skipped").Inc()
}

func (p *Prom) StorageBackendHealth(b string, f Fields) {
	healthy := 0.0
	if v, ok := f["healthy"].(bool); ok && v {
		healthy = 1.0
	}
	p.storageHealth.WithLabelValues(b, str(f, "backend")).Set(healthy)
}

func (p *Prom) StorageChainOperation(b string, f Fields) {
	outcome := "failure"
	if v, ok := f["ok"].(bool); ok && v {
		outcome = "success"
	}
	p.storageOps.WithLabelValues(b, "chain", str(f, "op"), outcome).Inc()
}
