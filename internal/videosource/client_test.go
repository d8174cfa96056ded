// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package videosource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPlaylistVideos_HappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/PL1/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"videoId":"v1","url":"https://youtu.be/v1","title":"Intro","publishedAt":"2024-01-02T15:04:05Z"},
			{"videoId":"v2","url":"https://youtu.be/v2","title":"Advanced"}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1})
	refs, err := c.ListPlaylistVideos(context.Background(), "PL1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "v1", refs[0].VideoID)
	assert.Equal(t, "Intro", refs[0].Title)
	require.NotNil(t, refs[0].PublishedAt)
	assert.Nil(t, refs[1].PublishedAt)
}

func TestGetVideo_NotFoundReturnsNilWithoutError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1})
	ref, err := c.GetVideo(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestGetVideo_Found(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"videoId":"v1","url":"https://youtu.be/v1","title":"Intro"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1})
	ref, err := c.GetVideo(context.Background(), "v1")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "v1", ref.VideoID)
}

func TestListPlaylistVideos_ServerErrorReturnsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/PL1/items", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 1})
	_, err := c.ListPlaylistVideos(context.Background(), "PL1")
	assert.Error(t, err)
}

func TestListPlaylistVideos_ClientErrorIsNotRetried(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists/PL1/items", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
	_, err := c.ListPlaylistVideos(context.Background(), "PL1")
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "a 4xx response must not be retried")
}
