// Package metrics exposes the Prometheus registry and scrape handler.
// Metrics are defined in their respective packages (source, cache, retry,
// fallback, estimator, warmer) to avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Source Metrics (pkg/source):
//   - mandi_source_requests_total{endpoint, status} (Counter): Provider requests by endpoint and HTTP status
//   - mandi_source_request_duration_seconds{endpoint} (Histogram): Provider request duration
//   - mandi_source_errors_total{class} (Counter): Provider errors by class (client, server, network, decode)
//   - mandi_source_dropped_records_total{endpoint} (Counter): Records dropped during normalization
//
// Retry Metrics (pkg/retry):
//   - mandi_retries_total{policy} (Counter): Retry attempts by policy
//   - mandi_retry_backoff_seconds{policy} (Histogram): Backoff duration by policy
//   - mandi_retry_exhausted_total{policy} (Counter): Operations that exhausted their attempts
//
// Cache Metrics (pkg/cache):
//   - mandi_cache_hits_total{kind} (Counter): Cache hits by kind
//   - mandi_cache_misses_total{kind} (Counter): Cache misses by kind
//   - mandi_cache_stale_reads_total{kind} (Counter): Entries read past their TTL for the stale fallback
//   - mandi_cache_errors_total{operation} (Counter): Cache operation errors
//   - mandi_cache_connected (Gauge): 1 when Redis is reachable, 0 in degraded mode
//
// Read Path Metrics (pkg/fallback):
//   - mandi_fallback_outcomes_total{kind, outcome} (Counter): Tier that served each read
//
// Estimation Metrics (pkg/estimator):
//   - mandi_estimations_total{method} (Counter): Estimates by method
//
// Warm-up Metrics (pkg/warmer):
//   - mandi_warmer_jobs_total{result} (Counter): Warm-up jobs by result (warmed, fallback)
//   - mandi_warmer_run_duration_seconds (Histogram): Duration of complete warm-up runs
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(mandi_cache_hits_total[5m])) /
//   (sum(rate(mandi_cache_hits_total[5m])) + sum(rate(mandi_cache_misses_total[5m])))
//
//   # Degraded Mode
//   mandi_cache_connected == 0
//
//   # Share of reads served by a fallback tier
//   sum(rate(mandi_fallback_outcomes_total{outcome=~"fallback_.*"}[5m])) /
//   sum(rate(mandi_fallback_outcomes_total[5m]))
//
//   # P95 Provider Latency
//   histogram_quantile(0.95, rate(mandi_source_request_duration_seconds_bucket[5m]))
