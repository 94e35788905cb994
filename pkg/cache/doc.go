// Package cache provides the incremental data cache used while rendering.
//
// The cache store implements the following features:
//
//   - Deterministic cache keys derived from method, URL, headers and body
//   - Byte-bounded LRU memory layer, sharded by key
//   - Optional remote backend (HTTP getItems/setItems contract, Redis, or a
//     custom Handler), consulted on memory misses
//   - Per-key deduplication of concurrent remote lookups
//   - Background remote writes that never fail the caller
//   - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create a store with a 50MB memory layer
//	store := cache.NewStore(cache.Options{
//		MaxMemoryBytes: 50 << 20,
//	})
//	defer store.Close()
//
//	// Derive a key for an outbound request
//	key, err := cache.DeriveKey(req)
//	if err != nil {
//		return err
//	}
//
//	// Get from cache
//	entry, err := store.Get(ctx, key, true)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - fetch upstream
//	}
//
// # Remote Backends
//
//	handler, err := cache.NewFetchCacheHandler(cache.FetchCacheConfig{
//		Endpoint: "https://cache.internal/base",
//	})
//	if err != nil {
//		return err
//	}
//	store := cache.NewStore(cache.Options{MaxMemoryBytes: 50 << 20, Handler: handler})
//
// Remote failures are logged and counted and degrade to a cache miss. After
// FailureThresholdCritical consecutive failures remote calls are skipped for
// a cooldown so a dead backend does not slow down every fetch.
//
// # Revalidation
//
// A FETCH value records its revalidate window in seconds. "revalidate: false"
// is normalized to CacheOneYear before it is stored; the literal false never
// reaches a backend. An entry is stale once now - LastModified exceeds the
// window.
//
// # Metrics
//
//   - rendercache_cache_hits_total{layer} - Cache hits (memory, remote)
//   - rendercache_cache_misses_total - Cache misses
//   - rendercache_cache_size_bytes{layer="memory"} - Estimated memory layer size
//   - rendercache_memory_evictions_total - LRU evictions
//   - rendercache_cache_errors_total{operation} - Backend errors
//   - rendercache_remote_skipped_total - Remote calls skipped while unhealthy
package cache
