// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/orchestrator"
	"github.com/videotag/pipeline/internal/resilience"
)

// breakerStaterLike is satisfied by *videosource.Client and
// *bookmarkstore.Client without importing either package's concrete type
// into this file's parameter lists.
type breakerStaterLike interface {
	BreakerState() resilience.State
	RemainingOpenDwell() time.Duration
}

// llmBreakerStater mirrors breakerStaterLike for the llm client, which
// exposes its breaker state under the name State rather than
// BreakerState (it has no HTTP-client base to disambiguate from).
type llmBreakerStater interface {
	State() resilience.State
	RemainingOpenDwell() time.Duration
}

// PlaylistTaggingHandler serves POST /api/v1/playlists/tag: it validates
// the request, streams the orchestrator's ProgressEvent feed back to the
// caller as Server-Sent Events, and maps the small set of pre-stream
// failures (bad input, a dependency known to be open) onto ordinary HTTP
// status codes before any SSE bytes are written.
type PlaylistTaggingHandler struct {
	orc *orchestrator.Orchestrator
	llm llmBreakerStater
}

// NewPlaylistTaggingHandler constructs the handler for orc, whose LLM
// dependency is llmClient (consulted only for the pre-stream health check).
func NewPlaylistTaggingHandler(orc *orchestrator.Orchestrator, llmClient llmBreakerStater) *PlaylistTaggingHandler {
	return &PlaylistTaggingHandler{orc: orc, llm: llmClient}
}

// ServeHTTP implements http.Handler.
func (h *PlaylistTaggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api.playlists")
	debug := r.URL.Query().Get("debug") == "true"

	var req model.TagPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondValidationError(w, r, "body", "request body must be valid JSON", debug, err)
		return
	}
	req.PlaylistInputRaw = strings.TrimSpace(req.PlaylistInputRaw)
	if req.PlaylistInputRaw == "" {
		h.respondValidationError(w, r, "playlistInput", "playlistInput is required", debug, nil)
		return
	}
	if req.Strategy != nil {
		if req.Strategy.MaxTags < 0 {
			h.respondValidationError(w, r, "strategy.maxTags", "maxTags must not be negative", debug, nil)
			return
		}
		if req.Strategy.ConfidenceFloor < 0 || req.Strategy.ConfidenceFloor > 1 {
			h.respondValidationError(w, r, "strategy.confidenceFloor", "confidenceFloor must be between 0 and 1", debug, nil)
			return
		}
	}

	// A dependency already known to be OPEN fails the request up front with
	// a proper 503 + Retry-After, rather than committing SSE headers only to
	// immediately emit a single Fatal error/completed pair. Once streaming
	// begins there is no way to retract the 200, so later breaker trips
	// surface purely as in-band error/completed events.
	if svc, retryAfter, open := h.firstOpenDependency(); open {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		RespondError(w, r, http.StatusServiceUnavailable, ErrServiceUnavailable, map[string]string{
			"service": svc,
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, r, http.StatusInternalServerError, ErrInternalServer)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.orc.Run(r.Context(), req)
	for ev := range events {
		if err := writeSSEEvent(w, ev); err != nil {
			logger.Warn().Err(err).Msg("client disconnected mid-stream")
			return
		}
		flusher.Flush()
		if ev.Type == model.EventCompleted {
			recordRunOutcome(runOutcome(ev))
		}
		if ev.Type == model.EventVideoCompleted || ev.Type == model.EventVideoSkipped {
			recordVideoOutcome(strings.ToLower(string(outcomeStatus(ev))))
		}
	}
}

func runOutcome(ev model.ProgressEvent) string {
	if data, ok := ev.Data.(model.CompletedData); ok && data.Summary.Failed > 0 && data.Summary.Succeeded == 0 && data.Summary.Skipped == 0 && data.Summary.Total > 0 {
		return "failed"
	}
	return "completed"
}

func outcomeStatus(ev model.ProgressEvent) model.VideoStatus {
	if outcome, ok := ev.Data.(model.VideoOutcome); ok {
		return outcome.Status
	}
	if ev.Type == model.EventVideoSkipped {
		return model.VideoSkipped
	}
	return model.VideoSuccess
}

// writeSSEEvent writes ev as one Server-Sent Events frame: an `event:` line
// carrying the ProgressEvent's type and a `data:` line carrying its JSON
// encoding.
func writeSSEEvent(w http.ResponseWriter, ev model.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

func (h *PlaylistTaggingHandler) respondValidationError(w http.ResponseWriter, r *http.Request, field, message string, debug bool, cause error) {
	details := map[string]any{"field": field, "reason": message}
	if debug && cause != nil {
		details["debug"] = cause.Error()
	}
	RespondError(w, r, http.StatusBadRequest, ErrInvalidInput, details)
}

// firstOpenDependency reports the first dependency (in videoSource,
// bookmarkStore, llm order) whose circuit breaker is currently OPEN, and
// how long it is expected to remain so.
func (h *PlaylistTaggingHandler) firstOpenDependency() (service string, retryAfter time.Duration, open bool) {
	type dep struct {
		name  string
		state breakerStaterLike
	}
	deps := []dep{
		{"videoSource", h.orc.Videos()},
		{"bookmarkStore", h.orc.Store()},
	}
	for _, d := range deps {
		if d.state.BreakerState() == resilience.StateOpen {
			return d.name, d.state.RemainingOpenDwell(), true
		}
	}
	if h.llm != nil && h.llm.State() == resilience.StateOpen {
		return "llm", h.llm.RemainingOpenDwell(), true
	}
	return "", 0, false
}
