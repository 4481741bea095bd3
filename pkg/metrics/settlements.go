package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts release/refund attempts by final status.
type SettlementMetrics struct {
	attempts *prometheus.CounterVec
}

// NewSettlementMetrics registers settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_settlement_attempts_total",
		Help: "Release and refund attempts by kind and resulting status.",
	}, []string{"kind", "status"})
	reg.MustRegister(attempts)
	return &SettlementMetrics{attempts: attempts}
}

// Observe records a settlement outcome.
func (s *SettlementMetrics) Observe(kind, status string) {
	if s == nil || s.attempts == nil {
		return
	}
	s.attempts.WithLabelValues(normalizeLabel(kind), normalizeLabel(status)).Inc()
}
