// Package cache keeps Spark GET responses in Redis and revalidates them
// with conditional requests.
//
// Spark returns an ETag on single resources. The caching Executor sends it
// back as If-None-Match; a 304 Not Modified is turned into the stored 200
// envelope before classification, so callers never see the 304.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	exec := cache.NewExecutor(transport.NewHTTPExecutor(nil), manager, 10*time.Minute, logger)
//
// # Direct Access
//
//	key := cache.KeyFor(descriptor)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from Spark
//	}
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - spark_cache_hits_total{layer="redis"} - Cache hits
//   - spark_cache_misses_total - Cache misses
//   - spark_cache_last_entry_bytes{layer="redis"} - Last stored entry size
//   - spark_304_responses_total - Conditional request successes
//   - spark_conditional_requests_total - Requests sent with a validator
//   - spark_cache_errors_total{operation} - Cache operation errors
//
// Cache keys include a fingerprint of the authorization header, so
// responses fetched with one token are never served to another.
package cache
