// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_cache_hits_total",
		Help: "Cache reads served without touching a remote service, by backend",
	}, []string{"backend"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_cache_misses_total",
		Help: "Cache reads that found nothing (absent or expired), by backend",
	}, []string{"backend"})

	cacheSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_cache_sets_total",
		Help: "Cache writes, by backend",
	}, []string{"backend"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_cache_evictions_total",
		Help: "Expired entries removed by the cleanup pass, by backend",
	}, []string{"backend"})
)

// RecordCacheHit counts a read served from the cache.
func RecordCacheHit(backend string) {
	cacheHitsTotal.WithLabelValues(backend).Inc()
}

// RecordCacheMiss counts a read that found no live entry.
func RecordCacheMiss(backend string) {
	cacheMissesTotal.WithLabelValues(backend).Inc()
}

// RecordCacheSet counts a cache write.
func RecordCacheSet(backend string) {
	cacheSetsTotal.WithLabelValues(backend).Inc()
}

// RecordCacheEvictions counts n entries removed by an expiry sweep.
func RecordCacheEvictions(backend string, n int) {
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(backend).Add(float64(n))
	}
}
