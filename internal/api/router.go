// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/videotag/pipeline/internal/llm"
	"github.com/videotag/pipeline/internal/orchestrator"
	"github.com/videotag/pipeline/internal/resilience"
)

// Server bundles the HTTP surface of the tagging pipeline: the streaming
// playlist endpoint, a Prometheus exposition endpoint, and plain liveness
// probes, all behind the shared ingress middleware stack.
type Server struct {
	Handler http.Handler
}

// NewServer builds the router for orc, whose LLM dependency's breaker state
// is also consulted by the streaming handler's pre-flight health check.
// cfg is optional; the zero value falls back to DefaultMiddlewareConfig.
func NewServer(orc *orchestrator.Orchestrator, llmClient *llm.ResilientClient, cfg ...MiddlewareConfig) *Server {
	mwCfg := DefaultMiddlewareConfig()
	if len(cfg) > 0 {
		mwCfg = cfg[0]
	}

	r := chi.NewRouter()

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(orc, llmClient))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/playlists/tag", NewPlaylistTaggingHandler(orc, llmClient).ServeHTTP)
	})

	return &Server{Handler: withMiddlewares(r, mwCfg)}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports not-ready when any upstream dependency's breaker is
// OPEN, mirroring the streaming handler's own pre-flight check so a load
// balancer can pull the instance out of rotation before requests start
// failing fast.
func handleReadyz(orc *orchestrator.Orchestrator, llmClient *llm.ResilientClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		deps := map[string]resilience.State{
			"videoSource":   orc.Videos().BreakerState(),
			"bookmarkStore": orc.Store().BreakerState(),
		}
		if llmClient != nil {
			deps["llm"] = llmClient.State()
		}
		ready := true
		states := make(map[string]string, len(deps))
		for name, s := range deps {
			states[name] = s.String()
			if s == resilience.StateOpen {
				ready = false
			}
		}
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		body, _ := json.Marshal(map[string]any{"ready": ready, "dependencies": states})
		_, _ = w.Write(body)
	}
}
