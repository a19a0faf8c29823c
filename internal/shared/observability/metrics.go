package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "molt_parse_seconds",
		Help:    "Time spent parsing a source unit.",
		Buckets: prometheus.DefBuckets,
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "molt_stage_seconds",
		Help:    "Time spent in one transformer pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	RewritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "molt_rewrites_total",
		Help: "Rewrite attempts by family and outcome.",
	}, []string{"family", "outcome"})

	UnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "molt_units_total",
		Help: "Transformed units by final status.",
	}, []string{"status"})

	UnitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "molt_unit_seconds",
		Help:    "End-to-end time for one unit's pipeline run.",
		Buckets: prometheus.DefBuckets,
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "molt_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
