// Package metrics exposes the Prometheus registry shared by all rendercache
// packages. Metrics are defined next to the code that records them (cache,
// fetch, render, export, cacheserver) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all rendercache metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer serving Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Incremental Cache Metrics (pkg/cache):
//   - rendercache_cache_hits_total{layer} (Counter): Hits by layer ("memory", "remote")
//   - rendercache_cache_misses_total (Counter): Misses across all layers
//   - rendercache_cache_size_bytes{layer="memory"} (Gauge): Estimated memory layer size
//   - rendercache_memory_evictions_total (Counter): LRU evictions
//   - rendercache_cache_errors_total{operation} (Counter): Backend errors ("get", "set", "decode")
//   - rendercache_remote_skipped_total (Counter): Remote calls skipped while the backend is unhealthy
//   - rendercache_remote_consecutive_failures (Gauge): Current consecutive backend failures
//   - rendercache_remote_retries_total{error_class} (Counter): Remote write retries
//   - rendercache_remote_retry_exhausted_total{error_class} (Counter): Remote writes that exhausted retries
//
// Fetch Metrics (pkg/fetch):
//   - rendercache_fetch_requests_total{decision} (Counter): Fetch decisions
//     ("passthrough", "hit", "stale", "miss", "uncached", "dynamic")
//   - rendercache_fetch_duration_seconds{mode} (Histogram): Upstream fetch duration
//   - rendercache_background_revalidations_total{result} (Counter): Stale-while-revalidate refreshes
//
// Render Metrics (pkg/render):
//   - rendercache_render_attempts_total{mode, outcome} (Counter): Render attempts
//   - rendercache_render_duration_seconds{mode} (Histogram): Render attempt duration
//
// Export Metrics (pkg/export):
//   - rendercache_export_routes_total{result} (Counter): Routes by result ("static", "dynamic", "failed")
//   - rendercache_export_duration_seconds (Histogram): Duration of a full export run
//
// Cache Server Metrics (pkg/cacheserver):
//   - rendercache_server_requests_total{route, status} (Counter): Requests by route and status
//   - rendercache_server_request_duration_seconds{route} (Histogram): Request duration
//   - rendercache_server_items_total{result} (Counter): Items by result ("hit", "miss", "stored")
//
// Example Prometheus Queries:
//
//   # Incremental Cache Hit Rate
//   sum(rate(rendercache_cache_hits_total[5m])) /
//   (sum(rate(rendercache_cache_hits_total[5m])) + sum(rate(rendercache_cache_misses_total[5m])))
//
//   # Share of fetches served stale
//   rate(rendercache_fetch_requests_total{decision="stale"}[5m]) /
//   rate(rendercache_fetch_requests_total[5m])
//
//   # Routes that bailed out of static generation
//   increase(rendercache_export_routes_total{result="dynamic"}[1h])
//
//   # Unhealthy remote backend
//   rendercache_remote_consecutive_failures > 0
