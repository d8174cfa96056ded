// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/videotag/pipeline/internal/orchestrator"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/sweep"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

func newFixtureServer() *httptest.Server {
	var mu sync.Mutex
	created := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/PL1/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"videoId": "v1", "url": "https://youtu.be/v1", "title": "Intro"},
		})
	})
	mux.HandleFunc("/containers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "title": "Videos"}})
	})
	mux.HandleFunc("/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{})
	})
	mux.HandleFunc("/bookmarks/exists", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		exists := created[r.URL.Query().Get("url")]
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"exists": exists})
	})
	mux.HandleFunc("/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if u, ok := body["url"].(string); ok {
			mu.Lock()
			created[u] = true
			mu.Unlock()
		}
		w.WriteHeader(http.StatusCreated)
	})
	return httptest.NewServer(mux)
}

func newOrchestrator(srv *httptest.Server) *orchestrator.Orchestrator {
	videos := videosource.New(videosource.Config{BaseURL: srv.URL, MaxRetries: 1})
	store := bookmarkstore.New(bookmarkstore.Config{BaseURL: srv.URL, MaxRetries: 1})
	cl := cachelayer.New(cache.NewMemoryCache(0), cachelayer.DefaultTTLConfig())
	fakeLLM := &llm.FakeClient{Response: `[{"name":"go","confidence":0.9,"preexisting":false}]`}
	sel := selector.New(store, fakeLLM, cl, selector.Config{FallbackTitle: "Videos"})
	gen := taggen.New(fakeLLM, taggen.ParseBlocklist(""))
	return orchestrator.New(videos, store, sel, gen, cl, orchestrator.Config{})
}

func TestPlaylistScheduler_DisabledIsNoop(t *testing.T) {
	srv := newFixtureServer()
	defer srv.Close()
	orc := newOrchestrator(srv)

	s := NewPlaylistScheduler(orc, []string{"PL1"}, Config{Enabled: false})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	// Nothing to assert beyond "does not panic or block" - Start must return
	// immediately without spawning the loop when disabled.
}

func TestPlaylistScheduler_RunsOnInitialDelay(t *testing.T) {
	srv := newFixtureServer()
	defer srv.Close()
	orc := newOrchestrator(srv)

	s := NewPlaylistScheduler(orc, []string{"PL1"}, Config{
		Enabled:      true,
		InitialDelay: 5 * time.Millisecond,
		FixedDelay:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Start(ctx)

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scheduled playlist run")
		case <-time.After(10 * time.Millisecond):
			exists, _ := bookmarkstore.New(bookmarkstore.Config{BaseURL: srv.URL, MaxRetries: 1}).BookmarkExists(context.Background(), 1, "https://youtu.be/v1")
			if exists {
				return
			}
		}
	}
}

func TestPlaylistScheduler_EmptyPlaylistListIsNoop(t *testing.T) {
	srv := newFixtureServer()
	defer srv.Close()
	orc := newOrchestrator(srv)

	s := NewPlaylistScheduler(orc, nil, Config{Enabled: true, InitialDelay: time.Millisecond, FixedDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	// No playlists configured: Start must not spawn a loop even when enabled.
}

func TestSweepScheduler_DisabledIsNoop(t *testing.T) {
	sweeper := sweep.New(
		videosource.New(videosource.Config{BaseURL: "http://unused.invalid", MaxRetries: 1}),
		bookmarkstore.New(bookmarkstore.Config{BaseURL: "http://unused.invalid", MaxRetries: 1}),
		&selector.Selector{},
		taggen.New(&llm.FakeClient{}, taggen.ParseBlocklist("")),
		cachelayer.New(cache.NewMemoryCache(0), cachelayer.DefaultTTLConfig()),
		model.DefaultTagStrategy(),
	)
	s := NewSweepScheduler(sweeper, Config{Enabled: false})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
}

// TestPlaylistScheduler_NoGoroutineLeak verifies the loop goroutine started
// by Start exits once its context is cancelled and leaves nothing running
// behind it.
func TestPlaylistScheduler_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := newFixtureServer()
	defer srv.Close()
	orc := newOrchestrator(srv)

	s := NewPlaylistScheduler(orc, []string{"PL1"}, Config{
		Enabled:      true,
		InitialDelay: time.Hour,
		FixedDelay:   time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)
}

// TestSweepScheduler_NoGoroutineLeak mirrors the playlist scheduler case for
// the sweep loop.
func TestSweepScheduler_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sweeper := sweep.New(
		videosource.New(videosource.Config{BaseURL: "http://unused.invalid", MaxRetries: 1}),
		bookmarkstore.New(bookmarkstore.Config{BaseURL: "http://unused.invalid", MaxRetries: 1}),
		&selector.Selector{},
		taggen.New(&llm.FakeClient{}, taggen.ParseBlocklist("")),
		cachelayer.New(cache.NewMemoryCache(0), cachelayer.DefaultTTLConfig()),
		model.DefaultTagStrategy(),
	)
	s := NewSweepScheduler(sweeper, Config{Enabled: true, InitialDelay: time.Hour, FixedDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	time.Sleep(20 * time.Millisecond)
}

func TestFatalErrorOrNil(t *testing.T) {
	err := assert.AnError

	// A fatal error with zero processed videos is a real scheduling failure.
	require.Error(t, fatalErrorOrNil(err, model.ProcessingSummary{}))

	// A fatal error alongside at least one successful video is tolerated -
	// the batch made partial progress.
	assert.NoError(t, fatalErrorOrNil(err, model.ProcessingSummary{Total: 2, Succeeded: 1, Failed: 1}))

	assert.NoError(t, fatalErrorOrNil(nil, model.ProcessingSummary{}))
}
