package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Query engine metrics
	LookupsTotal       *prometheus.CounterVec
	LookupDuration     *prometheus.HistogramVec
	CacheRequestsTotal *prometheus.CounterVec
	CacheErrorsTotal   prometheus.Counter
	ValidationFailures prometheus.Counter
	CoalescedLookups   prometheus.Counter
	BatchesTotal       prometheus.Counter
	BatchSize          prometheus.Histogram
	BatchDuration      prometheus.Histogram
	WorkerPoolInFlight prometheus.Gauge
	WorkerPoolQueued   prometheus.Gauge
	CacheBackendInfo   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "endpoint", "status"},
		),

		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoquery_lookups_total",
				Help: "Total number of address lookups by outcome",
			},
			[]string{"result"},
		),

		LookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "geoquery_lookup_duration_ms",
				Help:    "Lookup latency in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000},
			},
			[]string{"source"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geoquery_cache_requests_total",
				Help: "Total number of cache reads by result (hit or miss)",
			},
			[]string{"result"},
		),

		CacheErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "geoquery_cache_errors_total",
				Help: "Total number of cache operations that failed to reach the backend",
			},
		),

		ValidationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "geoquery_validation_failures_total",
				Help: "Total number of rejected address strings",
			},
		),

		CoalescedLookups: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "geoquery_coalesced_lookups_total",
				Help: "Total number of lookups that shared another caller's in-flight backend call",
			},
		),

		BatchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "geoquery_batches_total",
				Help: "Total number of batch queries",
			},
		),

		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geoquery_batch_size",
				Help:    "Number of addresses per batch query",
				Buckets: prometheus.ExponentialBuckets(1, 2, 11),
			},
		),

		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "geoquery_batch_duration_ms",
				Help:    "Batch query latency in milliseconds",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),

		WorkerPoolInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "geoquery_worker_pool_in_flight",
				Help: "Backend lookups currently executing",
			},
		),

		WorkerPoolQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "geoquery_worker_pool_queued",
				Help: "Lookups waiting for a free worker",
			},
		),

		CacheBackendInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geoquery_cache_backend_info",
				Help: "Cache backend selected at startup (value is always 1)",
			},
			[]string{"backend"},
		),
	}
}
