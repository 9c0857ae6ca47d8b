// Package metrics exposes the Prometheus registry used by swcache.
// All metrics are defined in their respective packages (cache, worker,
// precache, registration, chat) and registered via promauto, so importing
// those packages is enough to make them visible here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by swcache.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back everything registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Store Metrics (pkg/cache):
//   - swcache_store_hits_total{cache,layer} (Counter): Store hits by store name and backend
//   - swcache_store_misses_total{cache} (Counter): Store misses by store name
//   - swcache_store_written_bytes_total{layer} (Counter): Bytes written by backend
//   - swcache_store_errors_total{operation} (Counter): Storage operation errors
//
// Interception Metrics (pkg/worker):
//   - swcache_fetch_total{strategy,outcome} (Counter): Intercepted requests
//   - swcache_fetch_duration_seconds{strategy} (Histogram): Intercepted request duration
//   - swcache_network_errors_total{strategy} (Counter): Network failures seen by a strategy
//   - swcache_events_total{kind,result} (Counter): Dispatched events
//   - swcache_events_in_flight (Gauge): Events that have not settled
//   - swcache_caches_deleted_total (Counter): Stores deleted on activation
//   - swcache_installs_total{result} (Counter): Install events by result
//
// Pre-cache Metrics (pkg/precache):
//   - swcache_precache_fetches_total{result} (Counter): Manifest asset fetches
//   - swcache_precache_batch_duration_seconds (Histogram): Duration of a full manifest fetch
//
// Registration Metrics (pkg/registration):
//   - swcache_install_attempts_total (Counter): Install attempts
//   - swcache_install_failures_total (Counter): Failed install attempts
//   - swcache_install_retries_total (Counter): Install retries
//   - swcache_install_retry_backoff_seconds (Histogram): Backoff before a retry
//   - swcache_install_retry_exhausted_total (Counter): Installs that ran out of attempts
//   - swcache_activations_total{result} (Counter): Activations
//
// API Client Metrics (pkg/chat):
//   - swcache_chat_requests_total{endpoint,status} (Counter): API calls by endpoint and status
//   - swcache_chat_request_duration_seconds{endpoint} (Histogram): API call duration
//   - swcache_chat_errors_total{class} (Counter): API errors by class (client, server, network)
//
// Example Prometheus Queries:
//
//   # Offline fallback rate of API calls
//   sum(rate(swcache_fetch_total{strategy="network-first",outcome="stale"}[5m])) /
//   sum(rate(swcache_fetch_total{strategy="network-first"}[5m]))
//
//   # Static store hit rate
//   sum(rate(swcache_fetch_total{strategy="cache-first",outcome="cache"}[5m])) /
//   sum(rate(swcache_fetch_total{strategy="cache-first"}[5m]))
//
//   # P95 intercepted request latency
//   histogram_quantile(0.95, rate(swcache_fetch_duration_seconds_bucket[5m]))
//
//   # Failed installs
//   increase(swcache_install_retry_exhausted_total[1h]) > 0
