// Package metrics provides centralized Prometheus metrics registry for the image cache.
// All metrics are defined in their respective packages (cache, fetch, store)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the image cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer exposes the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Entry Metrics (pkg/cache):
//   - imgcache_entries (Gauge): Entries in the in-memory map
//   - imgcache_evictions_total (Counter): Entries evicted past their TTL
//   - imgcache_eviction_errors_total (Counter): Backing files that could not be deleted
//   - imgcache_persist_errors_total{operation} (Counter): Persistence failures by operation
//
// Lookup and Download Metrics (pkg/store):
//   - imgcache_lookups_total{result} (Counter): Lookups by result (hit, miss, stale_namespace)
//   - imgcache_downloads_total{result} (Counter): Downloads by result (success, failure, discarded)
//   - imgcache_coalesced_downloads_total (Counter): Requests that joined an in-flight download
//   - imgcache_notifications_total (Counter): Handler invocations
//   - imgcache_handler_panics_total (Counter): Handler invocations that panicked
//
// Fetch Metrics (pkg/fetch):
//   - imgcache_fetch_duration_seconds (Histogram): Download duration including retries
//   - imgcache_fetch_errors_total{class} (Counter): Errors by class (client, server, network, io)
//   - imgcache_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - imgcache_fetch_retry_exhausted_total{error_class} (Counter): Downloads that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(imgcache_lookups_total{result="hit"}[5m])) /
//   sum(rate(imgcache_lookups_total[5m]))
//
//   # Download Failure Rate
//   rate(imgcache_downloads_total{result="failure"}[5m])
//
//   # Coalescing Ratio
//   rate(imgcache_coalesced_downloads_total[5m]) / rate(imgcache_downloads_total[5m])
//
//   # P95 Download Latency
//   histogram_quantile(0.95, rate(imgcache_fetch_duration_seconds_bucket[5m]))
