package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_fetch_total",
		Help: "Intercepted requests by strategy and outcome",
	}, []string{"strategy", "outcome"}) // outcome: cache, network, stale, fallback, error, passthrough

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swcache_fetch_duration_seconds",
		Help:    "Intercepted request duration by strategy",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"strategy"})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_network_errors_total",
		Help: "Network fetch failures by strategy",
	}, []string{"strategy"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_events_total",
		Help: "Dispatched worker events by kind and result",
	}, []string{"kind", "result"})

	eventsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swcache_events_in_flight",
		Help: "Worker events that have not settled yet",
	})

	cachesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_caches_deleted_total",
		Help: "Stores deleted during activation",
	})

	installsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_installs_total",
		Help: "Install events by result",
	}, []string{"result"})
)
