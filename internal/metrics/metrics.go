// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Sync pipeline runs and outcomes
// - Identifier resolution and cache efficiency
// - Source adapter health (circuit breakers, fallbacks)
// - Library store query performance (DuckDB)
// - API endpoint latency and throughput

var (
	// Sync Pipeline Metrics
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by outcome",
		},
		[]string{"source", "status"}, // status: "success", "partial", "failed"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncEntriesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_entries_fetched_total",
			Help: "Total number of watch history entries fetched from sources",
		},
		[]string{"source"},
	)

	SyncRecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_records_written_total",
			Help: "Total number of library records created or updated during sync",
		},
		[]string{"outcome"}, // "created", "updated", "unchanged"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful sync",
		},
	)

	SchedulerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_scheduler_state",
			Help: "Sync scheduler state (0=idle, 1=running, 2=suspended)",
		},
	)

	SyncTriggersCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_triggers_coalesced_total",
			Help: "Total number of manual sync triggers rejected because a run was in progress",
		},
	)

	// Identifier Resolution Metrics
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolutions_total",
			Help: "Total number of identifier resolutions by outcome",
		},
		[]string{"status", "strategy"}, // status: resolved/ambiguous/not_found; strategy: tmdb_id/imdb_id/title_search
	)

	ResolutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolution_duration_seconds",
			Help:    "Duration of single-entry identifier resolution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TMDBRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tmdb_requests_total",
			Help: "Total number of TMDB API requests",
		},
		[]string{"endpoint", "status_code"},
	)

	TMDBRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tmdb_rate_limit_waits_total",
			Help: "Total number of requests delayed by the local TMDB rate limiter",
		},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "resolve_memory", "resolve_disk"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	// Source Adapter Metrics
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of requests to watch history sources",
		},
		[]string{"source", "operation", "result"}, // result: "success", "failure", "rejected"
	)

	SourceFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fallbacks_total",
			Help: "Total number of times a fallback source was used",
		},
		[]string{"from", "to"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Credential Metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of OAuth token refresh attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	ReauthRequired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reauth_required_total",
			Help: "Total number of times refresh failed and interactive re-authorization was required",
		},
	)

	// Library Store Metrics (DuckDB)
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation"},
	)

	LibrarySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "library_records",
			Help: "Current number of records in the library",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Export Metrics
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Total number of CSV exports",
		},
		[]string{"kind", "result"}, // kind: "watched", "watchlist", "not_found"
	)

	ExportRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "export_rows_written_total",
			Help: "Total number of CSV rows written across exports",
		},
	)
)

// RecordSyncRun records the outcome of a completed sync run.
func RecordSyncRun(source, status string, duration time.Duration) {
	SyncRunsTotal.WithLabelValues(source, status).Inc()
	SyncDuration.Observe(duration.Seconds())
	if status == "success" {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordResolution records a single identifier resolution outcome.
func RecordResolution(status, strategy string, duration time.Duration) {
	ResolutionsTotal.WithLabelValues(status, strategy).Inc()
	ResolutionDuration.Observe(duration.Seconds())
}

// RecordDBQuery records a library store query metric.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
