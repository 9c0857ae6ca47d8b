package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks store hits by store name and backend layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_hits_total",
			Help: "Total number of cache store hits",
		},
		[]string{"cache", "layer"}, // layer: "memory", "redis", "sqlite"
	)

	// CacheMisses tracks store misses by store name
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_misses_total",
			Help: "Total number of cache store misses",
		},
		[]string{"cache"},
	)

	// StoredBytes tracks bytes written into stores by backend layer
	StoredBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_written_bytes_total",
			Help: "Total bytes written into cache stores",
		},
		[]string{"layer"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swcache_store_errors_total",
			Help: "Total number of cache storage operation errors",
		},
		[]string{"operation"}, // "open", "match", "put", "delete", "keys", "names"
	)
)
