package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics tracks the billing webhook worker queue.
type WebhookMetrics struct {
	processed *prometheus.CounterVec
	retries   prometheus.Counter
	backlog   prometheus.Gauge
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

// Webhook returns the process-wide webhook worker metrics.
func Webhook() *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = newWebhookMetrics(prometheus.DefaultRegisterer)
	})
	return webhookMetrics
}

// ResetWebhookMetricsForTest clears the singleton between test runs.
func ResetWebhookMetricsForTest() {
	if webhookMetrics != nil {
		prometheus.DefaultRegisterer.Unregister(webhookMetrics.processed)
		prometheus.DefaultRegisterer.Unregister(webhookMetrics.retries)
		prometheus.DefaultRegisterer.Unregister(webhookMetrics.backlog)
	}
	webhookMetricsOnce = sync.Once{}
	webhookMetrics = nil
}

func newWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retention_webhook_events_processed_total",
			Help: "Webhook events processed by the background worker, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "retention_webhook_event_retries_total",
			Help: "Webhook event processing attempts that were rescheduled.",
		}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "retention_webhook_backlog",
			Help: "Webhook events waiting for processing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.retries, m.backlog)
	}
	return m
}

// IncProcessed records a terminal processing result (ok, failed, skipped).
func (m *WebhookMetrics) IncProcessed(result string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(result).Inc()
}

// IncRetry records a rescheduled processing attempt.
func (m *WebhookMetrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// SetBacklog records the current queue depth.
func (m *WebhookMetrics) SetBacklog(depth int64) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(depth))
}
