package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	WebhookOutcomeApplied          = "applied"
	WebhookOutcomeDuplicate        = "duplicate"
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeSignatureInvalid = "signature_invalid"
	WebhookOutcomeMalformed        = "malformed"
	WebhookOutcomeFailed           = "failed"
)

// WebhookMetrics counts inbound processor events by source, kind and outcome.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_webhook_events_total",
		Help: "Processor webhook deliveries by source, kind and outcome.",
	}, []string{"source", "kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrow_webhook_handle_duration_seconds",
		Help:    "Time spent applying a webhook event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{events: events, duration: duration}
}

// Observe records one delivery outcome.
func (w *WebhookMetrics) Observe(source, kind, outcome string) {
	if w == nil || w.events == nil {
		return
	}
	w.events.WithLabelValues(normalizeLabel(source), normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records handling latency for a source.
func (w *WebhookMetrics) ObserveDuration(source string, d time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(source)).Observe(d.Seconds())
}
