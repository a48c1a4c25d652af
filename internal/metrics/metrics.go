// Package metrics exposes Prometheus collectors for the prediction service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spoofcheck"

// Recorder owns the service collectors and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	predictions     *prometheus.CounterVec
	failures        *prometheus.CounterVec
	inferenceTime   prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	batchSize       prometheus.Histogram
	inflightBatches prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Completed predictions by label.",
		}, []string{"label"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_failures_total",
			Help:      "Failed predictions by reason.",
		}, []string{"reason"}),
		inferenceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Wall time of one decode-to-label prediction.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Prediction cache lookups by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_files",
			Help:      "Files per batch request.",
			Buckets:   prometheus.LinearBuckets(1, 4, 8),
		}),
		inflightBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_in_flight",
			Help:      "Batch requests currently being processed.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.predictions, r.failures, r.inferenceTime, r.cacheLookups,
		r.httpRequests, r.httpDuration, r.batchSize, r.inflightBatches,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObservePrediction records a successful prediction.
func (r *Recorder) ObservePrediction(label string, elapsed time.Duration) {
	r.predictions.WithLabelValues(label).Inc()
	r.inferenceTime.Observe(elapsed.Seconds())
}

// ObserveFailure records a failed prediction.
func (r *Recorder) ObserveFailure(reason string) {
	r.failures.WithLabelValues(reason).Inc()
}

// ObserveCache records a cache hit or miss.
func (r *Recorder) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveHTTP records one finished HTTP request.
func (r *Recorder) ObserveHTTP(route, status string, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// BatchStarted records a batch entering the pool and returns the matching
// completion callback.
func (r *Recorder) BatchStarted(files int) func() {
	r.batchSize.Observe(float64(files))
	r.inflightBatches.Inc()
	return r.inflightBatches.Dec
}
