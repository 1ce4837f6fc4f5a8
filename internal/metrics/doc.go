// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

/*
Package metrics provides Prometheus metrics collection and export for observability.

# Overview

The package instruments:
  - Sync pipeline runs (outcome, duration, entries fetched, records written)
  - Identifier resolution (outcome by strategy, cache hit/miss rates)
  - Source adapter health (request results, fallbacks, circuit breaker state)
  - Credential lifecycle (token refreshes, re-authorization events)
  - Library store query performance (DuckDB)
  - API endpoint latency and throughput
  - CSV exports

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:19876/metrics

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

To prevent high cardinality issues:

  - Endpoint labels use route patterns, never raw paths
  - Resolution strategies and outcomes are fixed constants
  - Error details are never used as label values

# Example PromQL

	# Sync success rate
	sum(rate(sync_runs_total{status="success"}[1h])) / sum(rate(sync_runs_total[1h]))

	# Resolution cache hit rate
	sum(rate(cache_hits_total[5m])) / (sum(rate(cache_hits_total[5m])) + sum(rate(cache_misses_total[5m])))

	# API p95 latency
	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))
*/
package metrics
