package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_cache_hits_total",
			Help: "Total number of Spark response cache hits",
		},
		[]string{"layer"}, // "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_cache_misses_total",
			Help: "Total number of Spark response cache misses",
		},
	)

	// CacheLastEntrySize tracks the size of the last stored entry by layer
	CacheLastEntrySize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spark_cache_last_entry_bytes",
			Help: "Size of the last stored Spark cache entry in bytes",
		},
		[]string{"layer"}, // "redis"
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_304_responses_total",
			Help: "Total number of Spark 304 Not Modified responses",
		},
	)

	// ConditionalRequests tracks requests sent with If-None-Match or If-Modified-Since
	ConditionalRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spark_conditional_requests_total",
			Help: "Total number of conditional Spark requests",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spark_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
