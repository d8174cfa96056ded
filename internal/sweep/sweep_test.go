// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sweep

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cache"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/llm"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

// TestSweeper_Run_RefilesYouTubeBookmarks drives a full sweep pass: one
// bookmark re-files cleanly, one non-YouTube bookmark is ignored, and one
// whose video fetch fails is counted failed without stopping the sweep.
func TestSweeper_Run_RefilesYouTubeBookmarks(t *testing.T) {
	var updated map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/containers/-1/bookmarks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "url": "https://www.youtube.com/watch?v=v1", "title": "Intro", "container": -1},
			{"id": 2, "url": "https://example.com/article", "title": "Not a video", "container": -1},
			{"id": 3, "url": "https://youtu.be/broken", "title": "Gone", "container": -1},
		})
	})
	mux.HandleFunc("/videos/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"videoId": "v1", "url": "https://www.youtube.com/watch?v=v1", "title": "Intro"})
	})
	mux.HandleFunc("/videos/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/containers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"id": 5, "title": "Go Talks"}})
	})
	mux.HandleFunc("/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{})
	})
	mux.HandleFunc("/bookmarks/1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		json.NewDecoder(r.Body).Decode(&updated)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	videos := videosource.New(videosource.Config{BaseURL: srv.URL, MaxRetries: 1, RequestsPerSecond: 1000, Burst: 1000})
	store := bookmarkstore.New(bookmarkstore.Config{BaseURL: srv.URL, MaxRetries: 1, RequestsPerSecond: 1000, Burst: 1000})
	cl := cachelayer.New(cache.NewMemoryCache(0), cachelayer.DefaultTTLConfig())
	fakeLLM := &llm.FakeClient{Response: "Go Talks"}
	sel := selector.New(store, fakeLLM, cl, selector.Config{FallbackTitle: "Videos"})
	gen := taggen.New(fakeLLM, taggen.ParseBlocklist(""))

	s := New(videos, store, sel, gen, cl, model.DefaultTagStrategy())
	result := s.Run(context.Background())

	assert.Equal(t, Result{Total: 2, Succeeded: 1, Failed: 1}, result)
	require.NotNil(t, updated)
	assert.Equal(t, float64(5), updated["container"])
}

func TestExtractYouTubeVideoID_WatchURL(t *testing.T) {
	id, ok := extractYouTubeVideoID("https://www.youtube.com/watch?v=abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestExtractYouTubeVideoID_ShortURL(t *testing.T) {
	id, ok := extractYouTubeVideoID("https://youtu.be/xyz789")
	assert.True(t, ok)
	assert.Equal(t, "xyz789", id)
}

func TestExtractYouTubeVideoID_NonYouTubeURL(t *testing.T) {
	_, ok := extractYouTubeVideoID("https://example.com/watch?v=abc123")
	assert.False(t, ok)
}

func TestExtractYouTubeVideoID_MissingVParam(t *testing.T) {
	_, ok := extractYouTubeVideoID("https://www.youtube.com/watch")
	assert.False(t, ok)
}
