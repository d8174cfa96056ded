// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package videosource is the video source client: it fetches playlist contents and
// individual video metadata from the upstream video source.
package videosource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/resilience"
)

// Config configures the video source HTTP client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond bounds outbound call rate to protect the upstream
	// service from burst traffic.
	RequestsPerSecond float64
	Burst             int
	// Dependency, when set, replaces the default resilience envelope. Used
	// by the main-wiring layer to apply per-dependency breaker/retry tuning
	// loaded from configuration.
	Dependency *resilience.Dependency
}

// Client fetches playlist and video data over HTTP/JSON.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	dep        *resilience.Dependency
}

// New constructs a video source client wrapped in the standard resilience
// envelope.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	dep := cfg.Dependency
	if dep == nil {
		retry := resilience.DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retry.MaxAttempts = cfg.MaxRetries
		}
		dep = resilience.NewDependency("videoSource", retry)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		dep:        dep,
	}
}

type playlistItemDTO struct {
	VideoID         string `json:"videoId"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	PublishedAt     string `json:"publishedAt"`
	DurationSeconds *int   `json:"durationSeconds"`
}

func (d playlistItemDTO) toVideoRef() model.VideoRef {
	v := model.VideoRef{
		VideoID:         d.VideoID,
		URL:             d.URL,
		Title:           d.Title,
		Description:     d.Description,
		DurationSeconds: d.DurationSeconds,
	}
	if d.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, d.PublishedAt); err == nil {
			v.PublishedAt = &t
		}
	}
	return v
}

// ListPlaylistVideos returns every video in the given playlist.
func (c *Client) ListPlaylistVideos(ctx context.Context, playlistID string) ([]model.VideoRef, error) {
	logger := log.WithComponent("videosource")
	path := fmt.Sprintf("/playlists/%s/items", playlistID)

	items, err := resilience.CallT(ctx, c.dep, func(ctx context.Context) ([]playlistItemDTO, error) {
		var out []playlistItemDTO
		if err := c.get(ctx, path, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("playlist_id", playlistID).Msg("list playlist videos failed")
		return nil, err
	}

	refs := make([]model.VideoRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.toVideoRef())
	}
	return refs, nil
}

// GetVideo returns metadata for a single video, or nil if it does not exist.
func (c *Client) GetVideo(ctx context.Context, videoID string) (*model.VideoRef, error) {
	path := fmt.Sprintf("/videos/%s", videoID)

	item, err := resilience.CallT(ctx, c.dep, func(ctx context.Context) (*playlistItemDTO, error) {
		var out playlistItemDTO
		if err := c.get(ctx, path, &out); err != nil {
			if err == errNotFound {
				return nil, nil
			}
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	ref := item.toVideoRef()
	return &ref, nil
}

// BreakerState reports the current circuit breaker state for the video
// source dependency, used by the transport layer's pre-stream health check.
func (c *Client) BreakerState() resilience.State {
	return c.dep.State()
}

// RemainingOpenDwell reports how much longer the breaker will stay open, or
// zero if it is not currently open.
func (c *Client) RemainingOpenDwell() time.Duration {
	return c.dep.Breaker.RemainingOpenDwell()
}

var errNotFound = fmt.Errorf("video not found")

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return resilience.NotRetryable(err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("video source returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return resilience.NotRetryable(fmt.Errorf("video source returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
