// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cache"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/llm"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

type bookmarkStoreFixture struct {
	mu           sync.Mutex
	existingURLs map[string]bool
	created      []string
	failExists   bool
}

func newFixtureServer(videos []map[string]any, containers []map[string]any) (*httptest.Server, *bookmarkStoreFixture) {
	f := &bookmarkStoreFixture{existingURLs: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/PL1/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(videos)
	})
	mux.HandleFunc("/containers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]int{"id": 1})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(containers)
	})
	mux.HandleFunc("/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{})
	})
	mux.HandleFunc("/bookmarks/exists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failExists {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		u := r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"exists": f.existingURLs[u]})
	})
	mux.HandleFunc("/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body["url"].(string))
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	return httptest.NewServer(mux), f
}

func collect(ch <-chan model.ProgressEvent) []model.ProgressEvent {
	var out []model.ProgressEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func buildOrchestrator(srv *httptest.Server, fakeLLM *llm.FakeClient) *Orchestrator {
	videos := videosource.New(videosource.Config{BaseURL: srv.URL, MaxRetries: 1, RequestsPerSecond: 1000, Burst: 1000})
	store := bookmarkstore.New(bookmarkstore.Config{BaseURL: srv.URL, MaxRetries: 1, RequestsPerSecond: 1000, Burst: 1000})
	cl := cachelayer.New(cache.NewMemoryCache(0), cachelayer.DefaultTTLConfig())
	sel := selector.New(store, fakeLLM, cl, selector.Config{FallbackTitle: "Videos"})
	gen := taggen.New(fakeLLM, taggen.ParseBlocklist(""))
	return New(videos, store, sel, gen, cl, Config{})
}

func TestOrchestrator_HappyPath(t *testing.T) {
	videos := []map[string]any{
		{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"},
		{"videoId": "v2", "url": "https://youtu.be/v2", "title": "Advanced"},
	}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[{"name":"go","confidence":0.9,"preexisting":false}]`}
	o := buildOrchestrator(srv, fakeLLM)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events := collect(o.Run(ctx, model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))

	require.NotEmpty(t, events)
	assert.Equal(t, model.EventStarted, events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, model.EventCompleted, last.Type)
	data := last.Data.(model.CompletedData)
	assert.Equal(t, model.ProcessingSummary{Total: 2, Succeeded: 2, Skipped: 0, Failed: 0}, data.Summary)
}

// TestOrchestrator_RunLeavesNoGoroutineBehind verifies the goroutine Run
// spawns exits once its event channel has been fully drained, so a caller
// that follows the documented drain-to-completion contract never leaks it.
func TestOrchestrator_RunLeavesNoGoroutineBehind(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	videos := []map[string]any{{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"}}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[{"name":"go","confidence":0.9,"preexisting":false}]`}
	o := buildOrchestrator(srv, fakeLLM)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	collect(o.Run(ctx, model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))
}

func TestOrchestrator_EmptyPlaylist(t *testing.T) {
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(nil, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: "LOW_CONFIDENCE"}
	o := buildOrchestrator(srv, fakeLLM)

	events := collect(o.Run(context.Background(), model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))
	last := events[len(events)-1]
	assert.Equal(t, model.EventCompleted, last.Type)
	data := last.Data.(model.CompletedData)
	assert.Equal(t, 0, data.Summary.Total)

	for _, ev := range events {
		assert.NotEqual(t, model.EventVideoCompleted, ev.Type)
		assert.NotEqual(t, model.EventVideoSkipped, ev.Type)
	}
}

func TestOrchestrator_DuplicateURLSkipped(t *testing.T) {
	videos := []map[string]any{
		{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"},
	}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, fixture := newFixtureServer(videos, containers)
	defer srv.Close()
	fixture.existingURLs["https://youtu.be/v1"] = true

	fakeLLM := &llm.FakeClient{Response: `[]`}
	o := buildOrchestrator(srv, fakeLLM)

	events := collect(o.Run(context.Background(), model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))
	last := events[len(events)-1]
	data := last.Data.(model.CompletedData)
	assert.Equal(t, model.ProcessingSummary{Total: 1, Succeeded: 0, Skipped: 1, Failed: 0}, data.Summary)
	assert.Empty(t, fixture.created)
}

func TestOrchestrator_MaxVideosFilter(t *testing.T) {
	videos := []map[string]any{
		{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"},
		{"videoId": "v2", "url": "https://youtu.be/v2", "title": "Advanced"},
		{"videoId": "v3", "url": "https://youtu.be/v3", "title": "Extra"},
	}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[]`}
	o := buildOrchestrator(srv, fakeLLM)

	one := 1
	req := model.TagPlaylistRequest{PlaylistInputRaw: "PL1", Filters: &model.Filters{MaxVideos: &one}}
	events := collect(o.Run(context.Background(), req))
	last := events[len(events)-1]
	data := last.Data.(model.CompletedData)
	assert.Equal(t, 1, data.Summary.Total)
}

// TestOrchestrator_BreakerOpenAbortsRunFatally drives the bookmark store
// into a tripped breaker mid-run: every duplicate check fails, so after
// enough failures the rolling window tips past the 50% rate and the next
// video finds the circuit open. The run must then abort with a single
// Fatal error and a terminal completed event carrying the counts accrued
// so far, instead of grinding through the rest of the playlist emitting
// one identical failure per video.
func TestOrchestrator_BreakerOpenAbortsRunFatally(t *testing.T) {
	var videos []map[string]any
	for i := 0; i < 12; i++ {
		videos = append(videos, map[string]any{
			"videoId": string(rune('a' + i)),
			"url":     "https://youtu.be/" + string(rune('a'+i)),
			"title":   "v",
		})
	}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, fixture := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: "Videos"}
	o := buildOrchestrator(srv, fakeLLM)

	fixture.mu.Lock()
	fixture.failExists = true
	fixture.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events := collect(o.Run(ctx, model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, model.EventCompleted, last.Type)

	fatal := 0
	perVideo := 0
	for _, ev := range events {
		if ev.Type != model.EventError {
			continue
		}
		if strings.HasPrefix(ev.Message, "Fatal") {
			fatal++
		} else {
			perVideo++
		}
	}
	require.Equal(t, 1, fatal, "a tripped breaker must surface as exactly one Fatal error")

	summary := last.Data.(model.CompletedData).Summary
	assert.Equal(t, 12, summary.Total)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, perVideo, summary.Failed, "failed count must match the per-video error events")
	assert.Less(t, summary.Failed, 12, "the run must abort before attempting every video")
}

// TestOrchestrator_QuietVerbositySuppressesProgress checks the verbosity
// knob only shapes informational progress events; structural events are
// unaffected.
func TestOrchestrator_QuietVerbositySuppressesProgress(t *testing.T) {
	videos := []map[string]any{{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"}}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[]`}
	o := buildOrchestrator(srv, fakeLLM)

	quiet := collect(o.Run(context.Background(), model.TagPlaylistRequest{PlaylistInputRaw: "PL1", Verbosity: model.VerbosityQuiet}))
	completed := 0
	for _, ev := range quiet {
		assert.NotEqual(t, model.EventProgress, ev.Type, "quiet runs must not emit progress events")
		if ev.Type == model.EventVideoCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	normal := collect(o.Run(context.Background(), model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))
	hasProgress := false
	for _, ev := range normal {
		if ev.Type == model.EventProgress {
			hasProgress = true
		}
	}
	assert.True(t, hasProgress, "default verbosity emits informational progress")
}

// TestOrchestrator_CancelledRunStillEmitsSummary pins the cancellation
// contract: a run whose context is already dead must still close out with
// a terminal completed event carrying its (possibly zero) counts, and the
// event channel must close so the consumer is released.
func TestOrchestrator_CancelledRunStillEmitsSummary(t *testing.T) {
	videos := []map[string]any{{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"}}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[]`}
	o := buildOrchestrator(srv, fakeLLM)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events := collect(o.Run(ctx, model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, model.EventCompleted, last.Type)
	summary := last.Data.(model.CompletedData).Summary
	assert.Equal(t, summary.Total, summary.Succeeded+summary.Skipped+summary.Failed)
}

func TestOrchestrator_BatchBoundary(t *testing.T) {
	var videos []map[string]any
	for i := 0; i < 11; i++ {
		videos = append(videos, map[string]any{
			"videoId": string(rune('a' + i)),
			"url":     "https://youtu.be/" + string(rune('a'+i)),
			"title":   "v",
		})
	}
	containers := []map[string]any{{"id": 1, "title": "Videos"}}
	srv, _ := newFixtureServer(videos, containers)
	defer srv.Close()

	fakeLLM := &llm.FakeClient{Response: `[]`}
	o := buildOrchestrator(srv, fakeLLM)

	events := collect(o.Run(context.Background(), model.TagPlaylistRequest{PlaylistInputRaw: "PL1"}))
	batchEvents := 0
	for _, ev := range events {
		if ev.Type == model.EventBatchCompleted {
			batchEvents++
		}
	}
	assert.Equal(t, 2, batchEvents, "11 videos at batch size 10 must produce two batches")
}
