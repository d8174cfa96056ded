// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_http_panics_total",
		Help: "Total panics recovered by the HTTP layer, by path",
	}, []string{"path"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_runs_total",
		Help: "Total tagging pipeline runs by terminal outcome",
	}, []string{"outcome"})

	videosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tagpipe_videos_processed_total",
		Help: "Total videos processed by a run, by per-video status",
	}, []string{"status"})
)

func recordHTTPPanic(path string) {
	httpPanicsTotal.WithLabelValues(path).Inc()
}

// recordRunOutcome records the terminal state of a completed tagging run.
func recordRunOutcome(outcome string) {
	runsTotal.WithLabelValues(outcome).Inc()
}

// recordVideoOutcome records the per-video status emitted during a run.
func recordVideoOutcome(status string) {
	videosProcessedTotal.WithLabelValues(status).Inc()
}
