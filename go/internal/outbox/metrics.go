package outbox

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(string, bool, time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(int, time.Duration)          {}
func (NoOpMetricsCollector) RecordOutboxLag(int)                              {}
func (NoOpMetricsCollector) RecordPublishAttempt(string, int, bool)           {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	eventCounter    *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	batchDuration   prometheus.Histogram
	outboxLag       prometheus.Gauge
	publishAttempts *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		eventCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_outbox_events_processed_total",
			Help: "Outbox events processed, by event type and status.",
		}, []string{"event_type", "status"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tourney_outbox_event_duration_seconds",
			Help:    "Time to publish one outbox event including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourney_outbox_batch_size",
			Help:    "Events fetched per outbox batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourney_outbox_batch_duration_seconds",
			Help:    "Time to process one outbox batch.",
			Buckets: prometheus.DefBuckets,
		}),
		outboxLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tourney_outbox_unsent_events",
			Help: "Events waiting to be published.",
		}),
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_outbox_publish_attempts_total",
			Help: "Publish attempts, by event type, attempt number and status.",
		}, []string{"event_type", "attempt", "status"}),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.eventCounter.WithLabelValues(eventType, status(success)).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordBatchProcessed(count int, duration time.Duration) {
	m.batchSize.Observe(float64(count))
	m.batchDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOutboxLag(lag int) {
	m.outboxLag.Set(float64(lag))
}

func (m *PrometheusMetrics) RecordPublishAttempt(eventType string, attempt int, success bool) {
	m.publishAttempts.WithLabelValues(eventType, strconv.Itoa(attempt), status(success)).Inc()
}
