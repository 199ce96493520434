package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheMisses tracks requests that missed both tiers
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tileproxy_cache_misses_total",
			Help: "Total number of requests that missed both cache tiers",
		},
	)

	// cacheErrors tracks Redis operation errors by operation
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tileproxy_cache_errors_total",
			Help: "Total number of Redis cache operation errors",
		},
		[]string{"operation"}, // "read", "write", "subscribe"
	)

	// invalidationsTotal tracks keys evicted via the invalidation channel
	invalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tileproxy_invalidations_total",
			Help: "Total number of local entries evicted by Redis invalidation pushes",
		},
	)

	// localEntries tracks current local tier occupancy
	localEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tileproxy_local_cache_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)
)
