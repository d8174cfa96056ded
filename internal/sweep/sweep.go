// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sweep is the unsorted sweeper: a periodic process that
// enriches bookmarks sitting in the bookmark store's special "unsorted"
// container, one video at a time.
package sweep

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

var youtubeHostRe = regexp.MustCompile(`(?i)(^|\.)(youtube\.com|youtu\.be)$`)

// Sweeper periodically re-files bookmarks left in the unsorted container.
type Sweeper struct {
	videos    *videosource.Client
	store     *bookmarkstore.Client
	selector  *selector.Selector
	taggen    *taggen.Generator
	cache     *cachelayer.Layer
	strategy  model.TagStrategy
	principal string
}

// New constructs a Sweeper.
func New(videos *videosource.Client, store *bookmarkstore.Client, sel *selector.Selector, gen *taggen.Generator, cache *cachelayer.Layer, strategy model.TagStrategy) *Sweeper {
	return &Sweeper{videos: videos, store: store, selector: sel, taggen: gen, cache: cache, strategy: strategy, principal: "default"}
}

// Result summarizes a single sweep pass.
type Result struct {
	Total     int
	Succeeded int
	Failed    int
}

// Run processes every YouTube bookmark currently filed under the unsorted
// container. Per-bookmark failures are logged and do not stop the sweep.
func (s *Sweeper) Run(ctx context.Context) Result {
	logger := log.WithComponent("sweeper")
	result := Result{}

	bookmarks, err := s.store.ListBookmarks(ctx, model.UnsortedContainerID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list unsorted bookmarks")
		return result
	}

	// Loaded once per pass; a degraded vocabulary fetch degrades the prompt
	// (no reuse hint), not the sweep.
	vocabulary, err := s.cache.TagsOrLoad(s.principal, func() ([]model.Tag, error) {
		return s.store.ListTags(ctx)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tag vocabulary unavailable for sweep")
		vocabulary = nil
	}

	for _, bm := range bookmarks {
		if ctx.Err() != nil {
			break
		}
		videoID, ok := extractYouTubeVideoID(bm.URL)
		if !ok {
			continue
		}
		result.Total++
		if err := s.processOne(ctx, bm, videoID, vocabulary); err != nil {
			result.Failed++
			logger.Warn().Err(err).Int("bookmark_id", bm.ID).Msg("unsorted sweep entry failed")
			continue
		}
		result.Succeeded++
	}

	logger.Info().Int("total", result.Total).Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("unsorted sweep complete")
	return result
}

func (s *Sweeper) processOne(ctx context.Context, bm model.Bookmark, videoID string, vocabulary []model.Tag) error {
	video, err := s.videos.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		video = &model.VideoRef{VideoID: videoID, URL: bm.URL, Title: bm.Title}
	}

	title, err := s.selector.ForVideo(ctx, *video)
	if err != nil {
		return err
	}

	containers, err := s.store.ListContainers(ctx)
	if err != nil {
		return err
	}
	containerID := -1
	for _, c := range containers {
		if strings.EqualFold(c.Title, title) {
			containerID = c.ID
			break
		}
	}
	if containerID == -1 {
		containerID, err = s.store.CreateContainer(ctx, title)
		if err != nil {
			return err
		}
		s.cache.InvalidateContainers(s.principal)
	}

	tags, err := s.taggen.Generate(ctx, *video, vocabulary, s.strategy)
	if err != nil {
		return err
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}

	return s.store.UpdateBookmark(ctx, bm.ID, containerID, names)
}

// extractYouTubeVideoID returns the video id encoded in a YouTube watch or
// short URL, and whether the URL is recognized as a YouTube URL at all.
func extractYouTubeVideoID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Host)
	if !youtubeHostRe.MatchString(host) {
		return "", false
	}
	if strings.Contains(host, "youtu.be") {
		id := strings.Trim(u.Path, "/")
		return id, id != ""
	}
	id := u.Query().Get("v")
	return id, id != ""
}
