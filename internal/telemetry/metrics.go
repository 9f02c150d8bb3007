package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeForged    = "forged"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ProviderErrors     *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kuaidi100_requests_total",
				Help: "Total number of provider requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kuaidi100_request_duration_seconds",
				Help:    "Provider request duration in seconds by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kuaidi100_errors_total",
				Help: "Total provider errors by operation and error type",
			},
			[]string{"operation", "error_type"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kuaidi100_notifications_total",
				Help: "Inbound push notifications by tracking status and outcome",
			},
			[]string{"status", "outcome"},
		),
	}
}

// RecordRequest records a provider request metric.
func (m *Metrics) RecordRequest(operation, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordError records a provider error metric.
func (m *Metrics) RecordError(operation, errorType string) {
	m.ProviderErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordNotification records the outcome of an inbound notification. Status
// is empty when the notification could not be decoded.
func (m *Metrics) RecordNotification(status, outcome string) {
	if status == "" {
		status = "unknown"
	}
	m.NotificationsTotal.WithLabelValues(status, outcome).Inc()
}
