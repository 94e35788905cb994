package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, remote)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendercache_cache_hits_total",
			Help: "Total number of incremental cache hits",
		},
		[]string{"layer"}, // "memory", "remote"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendercache_cache_misses_total",
			Help: "Total number of incremental cache misses",
		},
	)

	// CacheSize tracks the estimated size in bytes by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rendercache_cache_size_bytes",
			Help: "Estimated size of the incremental cache in bytes",
		},
		[]string{"layer"}, // "memory"
	)

	// MemoryEvictions tracks LRU evictions from the memory layer
	MemoryEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendercache_memory_evictions_total",
			Help: "Total number of entries evicted from the memory layer",
		},
	)

	// CacheErrors tracks cache backend errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rendercache_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "decode"
	)

	// RemoteSkipped tracks remote lookups skipped while the backend is unhealthy
	RemoteSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rendercache_remote_skipped_total",
			Help: "Total number of remote cache operations skipped due to backend failures",
		},
	)

	// RemoteFailuresInARow tracks consecutive remote backend failures
	RemoteFailuresInARow = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rendercache_remote_consecutive_failures",
			Help: "Number of consecutive remote cache backend failures",
		},
	)

	// remoteRetries tracks write retries by error class
	remoteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_remote_retries_total",
		Help: "Total number of remote cache write retries by error class",
	}, []string{"error_class"})

	// remoteRetryExhausted tracks writes that exhausted retries by error class
	remoteRetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rendercache_remote_retry_exhausted_total",
		Help: "Total number of remote cache writes that exhausted retries by error class",
	}, []string{"error_class"})
)
