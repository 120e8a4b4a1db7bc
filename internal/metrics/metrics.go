package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pattern execution metrics
	PatternExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegate_pattern_executions_total",
			Help: "Total number of pattern executions",
		},
		[]string{"pattern_type", "status"},
	)

	PatternExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegate_pattern_execution_seconds",
			Help:    "Pattern execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pattern_type"},
	)

	NoMatchingPattern = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delegate_no_matching_pattern_total",
			Help: "Total number of execute requests with no matching pattern",
		},
	)

	// Registry metrics. The 100ms lookup figure is a soft service-level
	// target: exceeding it shows up here, it never aborts the call.
	RegistryLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegate_registry_lookup_seconds",
			Help:    "In-memory registry lookup duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"op"},
	)

	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delegate_registry_size",
			Help: "Current number of registered patterns",
		},
	)

	// Store metrics. Soft target for persistence-backed access is 50ms.
	StoreLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegate_store_lookup_seconds",
			Help:    "Persistent store lookup duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"op"},
	)

	StoreCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delegate_store_cache_hits_total",
			Help: "Total number of store local cache hits",
		},
	)

	StoreCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delegate_store_cache_misses_total",
			Help: "Total number of store local cache misses",
		},
	)

	StoreCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delegate_store_cache_size",
			Help: "Current number of patterns in the store local cache",
		},
	)

	// Resource ledger metrics
	ResourcesAllocated = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delegate_resources_allocated",
			Help: "Currently allocated units per resource type",
		},
		[]string{"resource"},
	)

	ResourceDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delegate_resource_denials_total",
			Help: "Total number of allocation requests denied for lack of capacity",
		},
	)

	// Journal metrics
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegate_journal_writes_total",
			Help: "Total number of outcome journal writes",
		},
		[]string{"status"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegate_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "status"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delegate_http_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the rate limiter",
		},
	)
)

// RecordExecution records metrics for a completed pattern execution.
func RecordExecution(patternType string, success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	PatternExecutions.WithLabelValues(patternType, status).Inc()
	PatternExecutionDuration.WithLabelValues(patternType).Observe(durationSeconds)
}

// RecordRegistryLookup records the duration of a registry operation.
func RecordRegistryLookup(op string, durationSeconds float64) {
	RegistryLookupDuration.WithLabelValues(op).Observe(durationSeconds)
}

// RecordStoreLookup records the duration of a store operation.
func RecordStoreLookup(op string, durationSeconds float64) {
	StoreLookupDuration.WithLabelValues(op).Observe(durationSeconds)
}
