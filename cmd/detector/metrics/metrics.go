// Package metrics provides Prometheus metrics instrumentation for the detector.
//
// Metrics exposed:
//   - latencyguard_requests_total: Counter of detect-anomaly requests by status code
//   - latencyguard_predict_seconds: Histogram of model prediction duration
//   - latencyguard_samples_scored_total: Counter of samples scored
//   - latencyguard_anomalies_total: Counter of samples labelled anomalous
//   - latencyguard_cache_lookups_total: Counter of score cache lookups by result
//   - latencyguard_model_loaded: Gauge set to 1 once the model is ready
//   - latencyguard_errors_total: Counter of errors by component and reason
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the detector.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	PredictSeconds     prometheus.Histogram
	SamplesScoredTotal prometheus.Counter
	AnomaliesTotal     prometheus.Counter
	CacheLookupsTotal  *prometheus.CounterVec
	ModelLoaded        prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec
}

// New creates the detector metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer, model string) *Metrics {
	factory := promauto.With(reg)
	modelLabels := prometheus.Labels{"model": model}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latencyguard_requests_total",
			Help: "Total number of detect-anomaly requests by status code",
		}, []string{"code"}),

		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "latencyguard_predict_seconds",
			Help:        "Time spent labelling and scoring a request batch",
			ConstLabels: modelLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs .. ~1.6s
		}),

		SamplesScoredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "latencyguard_samples_scored_total",
			Help:        "Total number of samples scored",
			ConstLabels: modelLabels,
		}),

		AnomaliesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "latencyguard_anomalies_total",
			Help:        "Total number of samples labelled anomalous",
			ConstLabels: modelLabels,
		}),

		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latencyguard_cache_lookups_total",
			Help: "Score cache lookups by result (hit|miss)",
		}, []string{"result"}),

		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "latencyguard_model_loaded",
			Help:        "1 when the model artifact is loaded and serving",
			ConstLabels: modelLabels,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "latencyguard_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordRequest increments the request counter for an HTTP status code.
func (m *Metrics) RecordRequest(code int) {
	m.RequestsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordPredict records one scored batch.
func (m *Metrics) RecordPredict(seconds float64, samples, anomalies int) {
	m.PredictSeconds.Observe(seconds)
	m.SamplesScoredTotal.Add(float64(samples))
	m.AnomaliesTotal.Add(float64(anomalies))
}

// RecordCache records score cache hits and misses.
func (m *Metrics) RecordCache(hits, misses int) {
	if hits > 0 {
		m.CacheLookupsTotal.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.CacheLookupsTotal.WithLabelValues("miss").Add(float64(misses))
	}
}

// SetModelLoaded sets the model-loaded gauge.
func (m *Metrics) SetModelLoaded(loaded bool) {
	if loaded {
		m.ModelLoaded.Set(1)
		return
	}
	m.ModelLoaded.Set(0)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
