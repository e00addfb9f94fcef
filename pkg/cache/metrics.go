package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheEntries tracks the number of entries in the in-memory map
	cacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcache_entries",
			Help: "Current number of image cache entries",
		},
	)

	// evictions tracks entries removed by the expiry sweep
	evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcache_evictions_total",
			Help: "Total number of cache entries evicted by TTL",
		},
	)

	// evictionErrors tracks backing files that could not be deleted
	evictionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imgcache_eviction_errors_total",
			Help: "Total number of failed cache file deletions during eviction",
		},
	)

	// persistErrors tracks durable storage failures by operation
	persistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcache_persist_errors_total",
			Help: "Total number of cache persistence errors",
		},
		[]string{"operation"}, // "get", "set", "marshal", "unmarshal"
	)
)
