// Package metrics documents the Prometheus metrics exported by the Spark
// client. Metrics are defined with promauto in the packages that own them
// (events, scheduler, cache, ratelimit) to avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Spark client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/events):
//   - spark_requests_total{method, status} (Counter): Calls by method and HTTP status ("error" for transport failures)
//   - spark_request_duration_seconds{method} (Histogram): Single call duration
//   - spark_queued_total (Counter): Requests that took the queued lane
//   - spark_rate_limited_total (Counter): 429 responses honored
//   - spark_rate_limit_delay_seconds (Histogram): Retry delay taken from retry-after
//
// Scheduler Metrics (pkg/scheduler):
//   - spark_queue_depth (Gauge): Requests waiting in the FIFO queue
//   - spark_pages_total (Counter): Continuation pages followed
//   - spark_chains_total{outcome} (Counter): Finished request chains (done, fail)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - spark_rate_limit_backoff_seconds (Gauge): Remaining shared backoff window
//   - spark_rate_limit_waits_total (Counter): Requests held by a shared backoff window
//
// Cache Metrics (pkg/cache):
//   - spark_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - spark_cache_misses_total (Counter): Cache misses
//   - spark_cache_last_entry_bytes{layer="redis"} (Gauge): Last stored entry size
//   - spark_304_responses_total (Counter): 304 Not Modified responses
//   - spark_conditional_requests_total (Counter): Requests sent with If-None-Match
//   - spark_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Share of requests that hit a 429
//   rate(spark_rate_limited_total[5m]) / sum(rate(spark_requests_total[5m]))
//
//   # Queue backlog
//   spark_queue_depth > 10
//
//   # P95 call latency
//   histogram_quantile(0.95, rate(spark_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(spark_304_responses_total[5m]) / rate(spark_conditional_requests_total[5m])
