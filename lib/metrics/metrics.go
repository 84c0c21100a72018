package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build pipeline metrics exposed on /metrics for dashboards and health checks.
var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sitepress",
		Subsystem: "build_queue",
		Name:      "depth",
		Help:      "Number of queued build jobs per priority tier.",
	}, []string{"priority"})

	ActiveBuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sitepress",
		Subsystem: "build_queue",
		Name:      "active_builds",
		Help:      "Number of builds currently occupying a concurrency slot.",
	})

	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitepress",
		Subsystem: "build_pipeline",
		Name:      "builds_total",
		Help:      "Completed builds by terminal status.",
	}, []string{"status"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitepress",
		Subsystem: "build_pipeline",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock duration of completed builds.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 9),
	})
)
