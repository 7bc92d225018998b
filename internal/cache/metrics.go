package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// hitsTotal counts search pages served from cache.
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_hits_total",
		Help: "Total number of search result pages served from cache",
	})

	// missesTotal counts search pages that had to be computed.
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_misses_total",
		Help: "Total number of search requests not served from cache",
	})

	// invalidationsTotal counts cached pages dropped by invalidation.
	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_invalidations_total",
		Help: "Total number of cached pages dropped by invalidation",
	})
)
