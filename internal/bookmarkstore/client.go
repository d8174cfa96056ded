// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bookmarkstore is the bookmark store client: it lists/creates containers,
// lists/searches/creates/updates bookmarks, and lists the tag vocabulary.
package bookmarkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/resilience"
)

// Config configures the bookmark store HTTP client.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	// Dependency, when set, replaces the default resilience envelope. Used
	// by the main-wiring layer to apply per-dependency breaker/retry tuning
	// loaded from configuration.
	Dependency *resilience.Dependency
}

// Client talks to the bookmark store over HTTP/JSON.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	dep        *resilience.Dependency
}

// New constructs a bookmark store client wrapped in the standard resilience
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
		dep = resilience.NewDependency("bookmarkStore", retry)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		dep:        dep,
	}
}

// ListTags returns the full tag vocabulary known to the store.
func (c *Client) ListTags(ctx context.Context) ([]model.Tag, error) {
	return resilience.CallT(ctx, c.dep, func(ctx context.Context) ([]model.Tag, error) {
		var out []model.Tag
		if err := c.do(ctx, http.MethodGet, "/tags", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// ListContainers returns every container known to the store.
func (c *Client) ListContainers(ctx context.Context) ([]model.Container, error) {
	return resilience.CallT(ctx, c.dep, func(ctx context.Context) ([]model.Container, error) {
		var out []model.Container
		if err := c.do(ctx, http.MethodGet, "/containers", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// CreateContainer creates a new container and returns its id.
func (c *Client) CreateContainer(ctx context.Context, title string) (int, error) {
	logger := log.WithComponent("bookmarkstore")
	id, err := resilience.CallT(ctx, c.dep, func(ctx context.Context) (int, error) {
		var out struct {
			ID int `json:"id"`
		}
		body := map[string]string{"title": title}
		if err := c.do(ctx, http.MethodPost, "/containers", body, &out); err != nil {
			return 0, err
		}
		return out.ID, nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("title", title).Msg("create container failed")
	}
	return id, err
}

// BookmarkExists reports whether a bookmark for url already exists in
// containerID. Per the resilience contract, this call fails closed: it
// returns the ExternalServiceUnavailable error unmodified rather than
// degrading to false, so the caller marks the video FAILED instead of
// risking a duplicate insert.
func (c *Client) BookmarkExists(ctx context.Context, containerID int, rawURL string) (bool, error) {
	return resilience.CallT(ctx, c.dep, func(ctx context.Context) (bool, error) {
		var out struct {
			Exists bool `json:"exists"`
		}
		q := url.Values{}
		q.Set("container", strconv.Itoa(containerID))
		q.Set("url", rawURL)
		if err := c.do(ctx, http.MethodGet, "/bookmarks/exists?"+q.Encode(), nil, &out); err != nil {
			return false, err
		}
		return out.Exists, nil
	})
}

// CreateBookmark inserts a new bookmark.
func (c *Client) CreateBookmark(ctx context.Context, containerID int, rawURL, title string, tags []string) error {
	return c.dep.Call(ctx, func(ctx context.Context) error {
		body := map[string]any{
			"container": containerID,
			"url":       rawURL,
			"title":     title,
			"tags":      tags,
		}
		return c.do(ctx, http.MethodPost, "/bookmarks", body, nil)
	})
}

// bookmarkPageSize is the per-request page size used when listing a
// container's bookmarks.
const bookmarkPageSize = 100

// ListBookmarks returns every bookmark filed under containerID. The store
// pages its listing; the pages are walked here and surfaced to callers as
// one complete list, counted as a single logical call by the breaker.
func (c *Client) ListBookmarks(ctx context.Context, containerID int) ([]model.Bookmark, error) {
	return resilience.CallT(ctx, c.dep, func(ctx context.Context) ([]model.Bookmark, error) {
		var all []model.Bookmark
		for page := 1; ; page++ {
			var out []model.Bookmark
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("limit", strconv.Itoa(bookmarkPageSize))
			path := fmt.Sprintf("/containers/%d/bookmarks?%s", containerID, q.Encode())
			if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
				return nil, err
			}
			all = append(all, out...)
			if len(out) < bookmarkPageSize {
				return all, nil
			}
		}
	})
}

// UpdateBookmark moves a bookmark into containerID and replaces its tags.
func (c *Client) UpdateBookmark(ctx context.Context, bookmarkID, containerID int, tags []string) error {
	return c.dep.Call(ctx, func(ctx context.Context) error {
		body := map[string]any{
			"container": containerID,
			"tags":      tags,
		}
		path := fmt.Sprintf("/bookmarks/%d", bookmarkID)
		return c.do(ctx, http.MethodPut, path, body, nil)
	})
}

// BreakerState reports the current circuit breaker state for the bookmark
// store dependency, used by the transport layer's pre-stream health check.
func (c *Client) BreakerState() resilience.State {
	return c.dep.State()
}

// RemainingOpenDwell reports how much longer the breaker will stay open, or
// zero if it is not currently open.
func (c *Client) RemainingOpenDwell() time.Duration {
	return c.dep.Breaker.RemainingOpenDwell()
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return resilience.NotRetryable(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return resilience.NotRetryable(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("bookmark store returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return resilience.NotRetryable(fmt.Errorf("bookmark store returned %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
