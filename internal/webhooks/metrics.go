package webhooks

import (
	"time"

	"github.com/fjmerc/mediavault/internal/metrics"
)

// PrometheusMetrics records dispatcher activity in the shared registry
type PrometheusMetrics struct{}

// NewPrometheusMetrics creates a new Prometheus metrics recorder
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

func (m *PrometheusMetrics) RecordEvent(eventType string) {
	metrics.WebhookEventsTotal.WithLabelValues(eventType).Inc()
}

func (m *PrometheusMetrics) RecordDelivery(eventType, status string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, status).Inc()
}

func (m *PrometheusMetrics) RecordDeliveryDuration(eventType string, duration time.Duration) {
	metrics.WebhookDeliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRetry(eventType string) {
	metrics.WebhookRetriesTotal.WithLabelValues(eventType).Inc()
}

func (m *PrometheusMetrics) RecordDroppedEvent() {
	metrics.WebhookDroppedEventsTotal.Inc()
}

func (m *PrometheusMetrics) SetQueueSize(size int) {
	metrics.WebhookQueueSize.Set(float64(size))
}
