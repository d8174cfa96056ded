// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package selector picks a bookmark store
// container title for a playlist or a single video, using the LLM with a
// fallback-to-configured-default when the model is uncertain or fails.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/llm"
	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/resilience"
)

// lowConfidence is the literal string the model is instructed to return
// when no candidate container fits.
const lowConfidence = "LOW_CONFIDENCE"

// MaxSampleVideos bounds how many sample titles are included in the prompt.
const MaxSampleVideos = 10

// Selector chooses a destination container via the LLM.
type Selector struct {
	store         *bookmarkstore.Client
	llmClient     llm.Client
	cache         *cachelayer.Layer
	fallbackTitle string
	principal     string
}

// Config configures a Selector.
type Config struct {
	Principal     string
	FallbackTitle string
}

// New constructs a Selector.
func New(store *bookmarkstore.Client, llmClient llm.Client, cache *cachelayer.Layer, cfg Config) *Selector {
	fallback := cfg.FallbackTitle
	if fallback == "" {
		fallback = "Videos"
	}
	principal := cfg.Principal
	if principal == "" {
		principal = "default"
	}
	return &Selector{store: store, llmClient: llmClient, cache: cache, fallbackTitle: fallback, principal: principal}
}

// PlaylistSummary is the minimal information the prompt needs about the
// playlist and its sample videos; callers populate it from video source data.
type PlaylistSummary struct {
	Title        string
	Description  string
	SampleTitles []string
}

// ForPlaylist selects a container title for playlistID. summary is nil for
// an empty playlist (the fallback is returned without caching).
func (s *Selector) ForPlaylist(ctx context.Context, playlistID string, summary *PlaylistSummary) (string, error) {
	logger := log.WithComponent("selector")

	if cached, ok := s.cache.PlaylistContainer(playlistID); ok {
		return cached, nil
	}

	containers, err := s.listContainersWithFallback(ctx)
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return s.ensureFallback(ctx)
	}
	if summary == nil || len(summary.SampleTitles) == 0 {
		// Nothing to ground a decision on; do not cache, a later run may
		// see a populated playlist.
		return s.ensureFallback(ctx)
	}

	prompt := buildPlaylistPrompt(containers, summary)
	title, err := s.ask(ctx, prompt, containers)
	if err != nil {
		logger.Warn().Err(err).Str("playlist_id", playlistID).Msg("selector LLM call failed, using fallback")
		return s.ensureFallback(ctx)
	}

	s.cache.SetPlaylistContainer(playlistID, title)
	return title, nil
}

// ForVideo selects a container title for a single video, without caching.
func (s *Selector) ForVideo(ctx context.Context, video model.VideoRef) (string, error) {
	logger := log.WithComponent("selector")

	containers, err := s.listContainersWithFallback(ctx)
	if err != nil {
		return "", err
	}
	if len(containers) == 0 {
		return s.ensureFallback(ctx)
	}

	prompt := buildVideoPrompt(containers, video)
	title, err := s.ask(ctx, prompt, containers)
	if err != nil {
		logger.Warn().Err(err).Str("video_id", video.VideoID).Msg("selector LLM call failed, using fallback")
		return s.ensureFallback(ctx)
	}
	return title, nil
}

// listContainersWithFallback returns the cached or freshly-fetched
// container list. A breaker-open/retry-exhausted failure degrades to an
// empty list rather than propagating, so the caller proceeds to the
// fallback-container path instead of aborting the run.
func (s *Selector) listContainersWithFallback(ctx context.Context) ([]model.Container, error) {
	containers, err := s.cache.ContainersOrLoad(s.principal, func() ([]model.Container, error) {
		return s.store.ListContainers(ctx)
	})
	if err != nil {
		var esu *resilience.ExternalServiceUnavailable
		if errors.As(err, &esu) {
			return nil, nil
		}
		return nil, err
	}
	return containers, nil
}

// ensureFallback returns the configured fallback title, creating it in the
// store if it is not present among the current containers.
func (s *Selector) ensureFallback(ctx context.Context) (string, error) {
	containers, err := s.listContainersWithFallback(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range containers {
		if strings.EqualFold(c.Title, s.fallbackTitle) {
			return c.Title, nil
		}
	}
	if _, err := s.store.CreateContainer(ctx, s.fallbackTitle); err != nil {
		return "", err
	}
	s.cache.InvalidateContainers(s.principal)
	return s.fallbackTitle, nil
}

// ask submits prompt to the LLM and validates the response against the
// current container list.
func (s *Selector) ask(ctx context.Context, prompt string, containers []model.Container) (string, error) {
	resp, err := s.llmClient.Complete(ctx, selectorSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	resp = strings.TrimSpace(resp)
	if resp == lowConfidence {
		return s.ensureFallback(ctx)
	}
	for _, c := range containers {
		if c.Title == resp {
			return c.Title, nil
		}
	}
	return s.ensureFallback(ctx)
}

const selectorSystemPrompt = "You choose the single best existing collection for a video or playlist. " +
	"Respond with only the exact title of one collection from the provided list, or the literal text LOW_CONFIDENCE " +
	"if none fit well. Never invent a title. Never explain your answer."

func buildPlaylistPrompt(containers []model.Container, summary *PlaylistSummary) string {
	var sb strings.Builder
	sb.WriteString("Available collections:\n")
	for _, c := range containers {
		sb.WriteString("- " + c.Title + "\n")
	}
	sb.WriteString("\nPlaylist:\n")
	sb.WriteString("Title: " + summary.Title + "\n")
	if summary.Description != "" {
		sb.WriteString("Description: " + summary.Description + "\n")
	}
	if len(summary.SampleTitles) > 0 {
		sb.WriteString("\nSample videos:\n")
		n := len(summary.SampleTitles)
		if n > MaxSampleVideos {
			n = MaxSampleVideos
		}
		for i := 0; i < n; i++ {
			sb.WriteString(strconv.Itoa(i+1) + ". " + summary.SampleTitles[i] + "\n")
		}
	}
	sb.WriteString("\nRespond with only an exact collection title from the list above, or LOW_CONFIDENCE.\n")
	return sb.String()
}

func buildVideoPrompt(containers []model.Container, video model.VideoRef) string {
	var sb strings.Builder
	sb.WriteString("Available collections:\n")
	for _, c := range containers {
		sb.WriteString("- " + c.Title + "\n")
	}
	sb.WriteString(fmt.Sprintf("\nVideo:\nTitle: %s\n", video.Title))
	if video.Description != "" {
		sb.WriteString("Description: " + video.Description + "\n")
	}
	sb.WriteString("\nRespond with only an exact collection title from the list above, or LOW_CONFIDENCE.\n")
	return sb.String()
}
