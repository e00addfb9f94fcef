package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for store operations.
var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_lookups_total",
		Help: "Total cache lookups by result",
	}, []string{"result"}) // "hit", "miss", "stale_namespace"

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imgcache_downloads_total",
		Help: "Total downloads by result",
	}, []string{"result"}) // "success", "failure", "discarded"

	coalescedDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_coalesced_downloads_total",
		Help: "Total download requests that joined an in-flight download",
	})

	notificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_notifications_total",
		Help: "Total handler invocations",
	})

	handlerPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "imgcache_handler_panics_total",
		Help: "Total handler invocations that panicked",
	})
)
