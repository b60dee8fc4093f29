package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandi_cache_hits_total",
			Help: "Total number of price cache hits",
		},
		[]string{"kind"},
	)

	// CacheMisses tracks cache misses by kind
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandi_cache_misses_total",
			Help: "Total number of price cache misses",
		},
		[]string{"kind"},
	)

	// CacheStaleReads tracks entries served through the stale path
	CacheStaleReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandi_cache_stale_reads_total",
			Help: "Total number of cache entries read ignoring expiry",
		},
		[]string{"kind"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandi_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "get_stale", "set", "delete", "connect", "stats", "clear"
	)

	// CacheConnected is 1 while the store has a live Redis connection
	CacheConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mandi_cache_connected",
			Help: "Whether the price cache is connected to Redis (1) or degraded (0)",
		},
	)
)
