package rebuild

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rebuildsTotal counts rebuild runs by outcome.
	rebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_rebuilds_total",
			Help: "Total number of index rebuild runs",
		},
		[]string{"result"},
	)

	// rebuildDuration observes how long successful rebuilds take.
	rebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_rebuild_duration_seconds",
			Help:    "Duration of successful index rebuilds in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
