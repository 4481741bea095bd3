package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxOutcomePublished = "published"
	OutboxOutcomeRetry     = "retry"
	OutboxOutcomeDLQ       = "dlq"
)

// OutboxMetrics counts publisher results per event type.
type OutboxMetrics struct {
	publishes *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(publishes)
	return &OutboxMetrics{publishes: publishes}
}

func (o *OutboxMetrics) Observe(eventType, outcome string) {
	if o == nil || o.publishes == nil {
		return
	}
	o.publishes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
