// Package cache implements the two-tier tile cache: a bounded in-process LRU
// in front of a shared Redis tier.
//
// The tiers are consulted in order by TieredCache.Resolve:
//
// - Local LRU: zero network cost, bounded by a memory-derived entry capacity
// - Redis: shared across proxy instances, expiry via key TTL
// - Upstream: read-through fill, written back to both tiers
//
// # Basic Usage
//
//	// Create Redis client
//	opts := &redis.Options{Addr: "localhost:6379"}
//	rdb := redis.NewClient(opts)
//
//	// Wire the cache hierarchy
//	keys := cache.NewKeyBuilder(baseURL, "tileproxy:")
//	local := cache.NewLocalCache(cache.ComputeCapacity(20, 400*1024, logger))
//	remote := cache.NewRemoteCache(rdb, counters)
//	tiered := cache.NewTieredCache(keys, local, remote, fetcher, counters)
//
//	// Serve a request
//	result, err := tiered.Resolve(ctx, "tile/1/2/3", query)
//
// # Invalidation
//
// Local tiers across instances stay consistent through Redis client-side
// caching pushes rather than polling. The Invalidator subscribes to
// __redis__:invalidate and redirects a broadcast, prefix-filtered tracking
// stream at that subscription:
//
//	inv := cache.NewInvalidator(rdb, opts, keys, local, counters)
//	go inv.Run(ctx)
//
// When any instance writes or deletes a key under the namespace prefix,
// Redis pushes the key to every other instance, which evicts it from its
// local tier. NOLOOP suppresses echoes of an instance's own writes on the
// shared client's connections.
//
// # Keys
//
// The canonical form of a tile request is the full upstream URL with the
// query pairs sorted, so one identity serves as local cache key, Redis key
// suffix and fetch URL. Two requests naming the same tile with reordered
// parameters share a single cache entry.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - tileproxy_cache_misses_total - requests that reached the upstream
//   - tileproxy_cache_errors_total{operation} - Redis operation failures
//   - tileproxy_invalidations_total - keys evicted by invalidation pushes
//   - tileproxy_local_cache_entries - current local tier occupancy
//
// Redis failures never surface to request handling: reads degrade to
// misses, writes are dropped after being counted, and the invalidation
// subscription reconnects with exponential backoff.
package cache
