package scoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks scoring traffic. Each instance carries its own registry
// so services and tests never fight over collector registration.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	softFailTotal     *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	transformDuration prometheus.Histogram
	batchVectors      prometheus.Histogram
	cacheHitsTotal    prometheus.Counter
	cacheMissesTotal  prometheus.Counter
	inflight          prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoring",
			Name:      "requests_total",
			Help:      "Score requests by outcome.",
		}, []string{"outcome"}),
		softFailTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoring",
			Name:      "soft_fail_total",
			Help:      "Batches answered with an error message in the result envelope.",
		}, []string{"kind"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoring",
			Name:      "request_duration_seconds",
			Help:      "End-to-end score request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		transformDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoring",
			Name:      "transform_duration_seconds",
			Help:      "Pipeline transform latency per coalesced batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		batchVectors: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scoring",
			Name:      "batch_vectors",
			Help:      "Feature vectors per coalesced transform batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scoring",
			Name:      "cache_hits_total",
			Help:      "Score requests answered from the result cache.",
		}),
		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scoring",
			Name:      "cache_misses_total",
			Help:      "Score requests that missed the result cache.",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoring",
			Name:      "inflight_requests",
			Help:      "Score requests currently being served.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequestStart() {
	m.inflight.Inc()
}

func (m *Metrics) RecordRequestDone(latency time.Duration, scoreErr error) {
	m.inflight.Dec()
	m.requestDuration.Observe(latency.Seconds())
	if scoreErr == nil {
		m.requestsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.requestsTotal.WithLabelValues("soft_fail").Inc()
	m.softFailTotal.WithLabelValues(failKind(scoreErr)).Inc()
}

func (m *Metrics) RecordTransformBatch(vectorCount int, transformTime time.Duration) {
	m.batchVectors.Observe(float64(vectorCount))
	m.transformDuration.Observe(transformTime.Seconds())
}

func (m *Metrics) RecordCacheHit()  { m.cacheHitsTotal.Inc() }
func (m *Metrics) RecordCacheMiss() { m.cacheMissesTotal.Inc() }
