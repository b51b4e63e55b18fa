package events

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for Spark request events.
var (
	sparkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_requests_total",
		Help: "Total Spark API calls by method and status",
	}, []string{"method", "status"})

	sparkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spark_request_duration_seconds",
		Help:    "Spark API call duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	sparkQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_queued_total",
		Help: "Total requests that waited in the throttle queue",
	})

	sparkRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_rate_limited_total",
		Help: "Total 429 responses honored with a retry delay",
	})

	sparkRateLimitDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spark_rate_limit_delay_seconds",
		Help:    "Retry delay taken from retry-after on 429 responses",
		Buckets: []float64{0.5, 1, 2, 5, 15, 30, 60, 120},
	})
)

// statusError labels calls that produced no HTTP status.
const statusError = "error"

// MetricsObserver records scheduler events as Prometheus metrics.
type MetricsObserver struct{}

// NewMetricsObserver returns a MetricsObserver.
func NewMetricsObserver() MetricsObserver {
	return MetricsObserver{}
}

func (MetricsObserver) OnRequest(RequestEvent) {}

func (MetricsObserver) OnQueued(QueuedEvent) {
	sparkQueuedTotal.Inc()
}

func (MetricsObserver) OnRateLimited(e RateLimitedEvent) {
	sparkRateLimitedTotal.Inc()
	sparkRateLimitDelay.Observe(e.Delay.Seconds())
}

func (MetricsObserver) OnResponse(e ResponseEvent) {
	status := statusError
	if e.Err == nil && e.Status != 0 {
		status = strconv.Itoa(e.Status)
	}
	sparkRequestsTotal.WithLabelValues(e.Method, status).Inc()
	sparkRequestDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
}
