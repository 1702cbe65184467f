// Package metrics provides Prometheus metrics for the consent reconciler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the consent reconciler.
type Metrics struct {
	// Pipeline metrics
	FetchesTotal  *prometheus.CounterVec // source: live | store
	FetchFailures *prometheus.CounterVec // stage: cmp | export | store

	// CMP paginator metrics
	PagesFetched   prometheus.Counter
	ConsentRecords prometheus.Counter

	// Export job metrics
	ExportJobsCreated   prometheus.Counter
	ExportJobsCompleted prometheus.Counter
	ExportJobsFailed    prometheus.Counter
	ExportJobsTimedOut  prometheus.Counter
	ExportCacheHits     prometheus.Counter

	// Correlation metrics
	CorrelationDuration prometheus.Histogram
	CorrelationDegraded prometheus.Counter

	// Storage metrics
	SnapshotUpserts prometheus.Counter

	// Timing
	FetchDuration prometheus.Histogram
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "consent_reconciler"
	}

	m := &Metrics{
		FetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of per-date snapshot requests served",
			},
			[]string{"source"},
		),
		FetchFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Total number of per-date fetch failures",
			},
			[]string{"stage"},
		),
		PagesFetched: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cmp_pages_fetched_total",
				Help:      "Total number of CMP listing pages retrieved",
			},
		),
		ConsentRecords: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cmp_consent_records_total",
				Help:      "Total number of CMP consent records aggregated",
			},
		),
		ExportJobsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_created_total",
				Help:      "Total number of profile export jobs submitted",
			},
		),
		ExportJobsCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_completed_total",
				Help:      "Total number of profile export jobs that completed",
			},
		),
		ExportJobsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_failed_total",
				Help:      "Total number of profile export jobs the platform reported failed",
			},
		),
		ExportJobsTimedOut: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_jobs_timed_out_total",
				Help:      "Total number of profile export jobs abandoned after the poll budget",
			},
		),
		ExportCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_cache_hits_total",
				Help:      "Total number of export requests served from the local file cache",
			},
		),
		CorrelationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "correlation_duration_seconds",
				Help:      "Time to correlate CMP identifiers against the profile export",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		),
		CorrelationDegraded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_degraded_total",
				Help:      "Total number of snapshots emitted with default channel counts because the profile export was unavailable",
			},
		),
		SnapshotUpserts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_upserts_total",
				Help:      "Total number of snapshot rows written",
			},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Total time to produce a per-date snapshot via the live path",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}
