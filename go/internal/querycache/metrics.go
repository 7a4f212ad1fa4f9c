package querycache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes and discard reasons reported to Metrics
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	DiscardSuperseded   = "superseded"
	DiscardUnsubscribed = "unsubscribed"
	DiscardClosed       = "closed"
)

// Metrics defines the interface for collecting store metrics
type Metrics interface {
	FetchStarted(key Key)
	FetchCompleted(key Key, outcome string, duration time.Duration)
	FetchShared(key Key)
	ResultDiscarded(key Key, reason string)
	Invalidated(key Key)
	Subscribed(key Key)
	Unsubscribed(key Key)
}

// NoOpMetrics is a no-op implementation for when metrics aren't needed
type NoOpMetrics struct{}

func (NoOpMetrics) FetchStarted(Key)                          {}
func (NoOpMetrics) FetchCompleted(Key, string, time.Duration) {}
func (NoOpMetrics) FetchShared(Key)                           {}
func (NoOpMetrics) ResultDiscarded(Key, string)               {}
func (NoOpMetrics) Invalidated(Key)                           {}
func (NoOpMetrics) Subscribed(Key)                            {}
func (NoOpMetrics) Unsubscribed(Key)                          {}

// PrometheusMetrics implements Metrics with collectors labelled by resource
// (the first key element) to keep cardinality bounded.
type PrometheusMetrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	inFlight      *prometheus.GaugeVec
	shared        *prometheus.CounterVec
	discarded     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	subscribers   *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the store collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_querycache_fetches_total",
			Help: "Total number of completed fetches, by resource and outcome.",
		}, []string{"resource", "outcome"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tourney_querycache_fetch_duration_seconds",
			Help:    "Fetch latency, by resource.",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tourney_querycache_fetches_in_flight",
			Help: "Fetches currently in flight, by resource.",
		}, []string{"resource"}),
		shared: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_querycache_fetches_shared_total",
			Help: "Reads that attached to an in-flight fetch instead of issuing a request, by resource.",
		}, []string{"resource"}),
		discarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_querycache_results_discarded_total",
			Help: "Fetch or mutation results that were not applied, by resource and reason.",
		}, []string{"resource", "reason"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tourney_querycache_invalidations_total",
			Help: "Keys marked stale, by resource.",
		}, []string{"resource"}),
		subscribers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tourney_querycache_subscribers",
			Help: "Active subscriptions, by resource.",
		}, []string{"resource"}),
	}
}

func (m *PrometheusMetrics) FetchStarted(key Key) {
	m.inFlight.WithLabelValues(key.Resource()).Inc()
}

func (m *PrometheusMetrics) FetchCompleted(key Key, outcome string, duration time.Duration) {
	m.inFlight.WithLabelValues(key.Resource()).Dec()
	m.fetches.WithLabelValues(key.Resource(), outcome).Inc()
	m.fetchDuration.WithLabelValues(key.Resource()).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) FetchShared(key Key) {
	m.shared.WithLabelValues(key.Resource()).Inc()
}

func (m *PrometheusMetrics) ResultDiscarded(key Key, reason string) {
	m.discarded.WithLabelValues(key.Resource(), reason).Inc()
}

func (m *PrometheusMetrics) Invalidated(key Key) {
	m.invalidations.WithLabelValues(key.Resource()).Inc()
}

func (m *PrometheusMetrics) Subscribed(key Key) {
	m.subscribers.WithLabelValues(key.Resource()).Inc()
}

func (m *PrometheusMetrics) Unsubscribed(key Key) {
	m.subscribers.WithLabelValues(key.Resource()).Dec()
}
