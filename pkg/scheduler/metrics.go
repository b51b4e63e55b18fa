package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the throttle scheduler.
var (
	sparkQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spark_queue_depth",
		Help: "Number of Spark requests waiting in the throttle queue",
	})

	sparkPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_pages_total",
		Help: "Total continuation pages followed",
	})

	sparkChainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_chains_total",
		Help: "Total finished request chains by outcome",
	}, []string{"outcome"})
)
