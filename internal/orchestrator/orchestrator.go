// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator drives a single playlist through the tagging run:
// resolve the playlist id, select and resolve a container, load the tag
// vocabulary, fetch videos, then process them in fixed-size batches,
// emitting a ProgressEvent stream as it goes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/resilience"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

// BatchSize is the fixed number of videos processed per batch.
const BatchSize = 10

// eventBufferSize bounds the orchestrator's outbound event channel. The
// producer runs ahead of a slow consumer by up to this many events; once
// the buffer is full, every event (terminal ones included) waits for the
// consumer or for ctx to be cancelled. No slot is reserved for terminal
// events.
const eventBufferSize = 64

// Orchestrator runs tagging pipelines over whole playlists.
type Orchestrator struct {
	videos    *videosource.Client
	store     *bookmarkstore.Client
	selector  *selector.Selector
	taggen    *taggen.Generator
	cache     *cachelayer.Layer
	principal string
}

// Config configures an Orchestrator.
type Config struct {
	Principal string
}

// New constructs an Orchestrator.
func New(videos *videosource.Client, store *bookmarkstore.Client, sel *selector.Selector, gen *taggen.Generator, cache *cachelayer.Layer, cfg Config) *Orchestrator {
	principal := cfg.Principal
	if principal == "" {
		principal = "default"
	}
	return &Orchestrator{videos: videos, store: store, selector: sel, taggen: gen, cache: cache, principal: principal}
}

// Videos returns the video source client backing this orchestrator, used by
// the transport layer's pre-stream breaker health check.
func (o *Orchestrator) Videos() *videosource.Client { return o.videos }

// Store returns the bookmark store client backing this orchestrator, used
// by the transport layer's pre-stream breaker health check.
func (o *Orchestrator) Store() *bookmarkstore.Client { return o.store }

// Run starts processing req and returns a channel of ProgressEvent. The
// channel is closed after the terminal event (completed, or a fatal error
// followed by completed) has been sent. The caller must drain the channel
// to completion or cancel ctx.
func (o *Orchestrator) Run(ctx context.Context, req model.TagPlaylistRequest) <-chan model.ProgressEvent {
	events := make(chan model.ProgressEvent, eventBufferSize)
	go o.run(ctx, req, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, req model.TagPlaylistRequest, events chan<- model.ProgressEvent) {
	defer close(events)
	logger := log.WithComponent("orchestrator")

	verbosity := req.Verbosity
	if verbosity == "" {
		verbosity = model.VerbosityNormal
	}

	summary := model.ProcessingSummary{}
	send(ctx, events, model.ProgressEvent{Type: model.EventStarted, Message: "processing started"})

	playlistID, err := resolvePlaylistID(req.PlaylistInputRaw)
	if err != nil {
		o.fatal(ctx, events, summary, fmt.Errorf("resolve playlist id: %w", err))
		return
	}

	strategy := model.DefaultTagStrategy()
	if req.Strategy != nil {
		strategy = *req.Strategy
	}

	containerTitle, err := o.selectContainer(ctx, playlistID)
	if err != nil {
		o.fatal(ctx, events, summary, fmt.Errorf("select container: %w", err))
		return
	}
	progress(ctx, events, verbosity, "container selected: "+containerTitle)

	containerID, err := o.resolveContainerID(ctx, containerTitle)
	if err != nil {
		o.fatal(ctx, events, summary, fmt.Errorf("resolve container id: %w", err))
		return
	}

	vocabulary, err := o.loadVocabulary(ctx)
	if err != nil {
		o.fatal(ctx, events, summary, fmt.Errorf("load tag vocabulary: %w", err))
		return
	}

	videos, err := o.videos.ListPlaylistVideos(ctx, playlistID)
	if err != nil {
		o.fatal(ctx, events, summary, fmt.Errorf("fetch playlist videos: %w", err))
		return
	}
	videos = applyFilters(videos, req.Filters)
	summary.Total = len(videos)
	if verbosity == model.VerbosityVerbose {
		progress(ctx, events, verbosity, fmt.Sprintf("%d videos to process after filters", len(videos)))
	}

	if len(videos) == 0 {
		send(ctx, events, model.ProgressEvent{Type: model.EventCompleted, Message: "nothing to process", Data: model.CompletedData{Summary: summary}})
		return
	}

	totalBatches := (len(videos) + BatchSize - 1) / BatchSize
	for batchStart, batchNum := 0, 1; batchStart < len(videos); batchStart, batchNum = batchStart+BatchSize, batchNum+1 {
		if ctx.Err() != nil {
			break
		}
		end := batchStart + BatchSize
		if end > len(videos) {
			end = len(videos)
		}
		batch := videos[batchStart:end]
		if verbosity == model.VerbosityVerbose {
			progress(ctx, events, verbosity, fmt.Sprintf("starting batch %d/%d", batchNum, totalBatches))
		}

		batchSucceeded, batchSkipped, batchFailed := 0, 0, 0
		for _, v := range batch {
			if ctx.Err() != nil {
				break
			}
			outcome, procErr := o.processVideo(ctx, v, containerID, vocabulary, strategy)
			if procErr != nil && errors.Is(procErr, resilience.ErrCircuitOpen) {
				// A tripped breaker means every remaining video would fail the
				// same way; abort the run with the counts accrued so far
				// rather than emitting one identical failure per video.
				o.fatal(ctx, events, summary, fmt.Errorf("process %s: %w", v.VideoID, procErr))
				return
			}
			switch outcome.Status {
			case model.VideoSuccess:
				summary.Succeeded++
				batchSucceeded++
				send(ctx, events, model.ProgressEvent{Type: model.EventVideoCompleted, Message: v.Title, Data: outcome})
			case model.VideoSkipped:
				summary.Skipped++
				batchSkipped++
				send(ctx, events, model.ProgressEvent{Type: model.EventVideoSkipped, Message: v.Title, Data: outcome})
			case model.VideoFailed:
				summary.Failed++
				batchFailed++
				logger.Warn().Str("video_id", v.VideoID).Str("error", outcome.ErrorMessage).Msg("video processing failed")
				send(ctx, events, model.ProgressEvent{Type: model.EventError, Message: "video failed: " + outcome.ErrorMessage, Data: outcome})
			}
		}

		send(ctx, events, model.ProgressEvent{
			Type:    model.EventBatchCompleted,
			Message: fmt.Sprintf("batch %d/%d complete", batchNum, totalBatches),
			Data: model.BatchCompletedData{
				BatchNumber:  batchNum,
				TotalBatches: totalBatches,
				Succeeded:    batchSucceeded,
				Skipped:      batchSkipped,
				Failed:       batchFailed,
			},
		})
	}

	send(ctx, events, model.ProgressEvent{Type: model.EventCompleted, Message: "processing complete", Data: model.CompletedData{Summary: summary}})
}

// processVideo runs the per-video state machine. The returned error carries
// the underlying failure cause alongside the FAILED outcome so the batch
// loop can distinguish an open circuit (abort the run) from an ordinary
// per-video failure (record and continue).
func (o *Orchestrator) processVideo(ctx context.Context, v model.VideoRef, containerID int, vocabulary []model.Tag, strategy model.TagStrategy) (model.VideoOutcome, error) {
	exists, err := o.store.BookmarkExists(ctx, containerID, v.URL)
	if err != nil {
		return model.VideoOutcome{Video: v, Status: model.VideoFailed, ErrorMessage: err.Error()}, err
	}
	if exists {
		return model.VideoOutcome{Video: v, Status: model.VideoSkipped}, nil
	}

	tags, err := o.taggen.Generate(ctx, v, vocabulary, strategy)
	if err != nil {
		return model.VideoOutcome{Video: v, Status: model.VideoFailed, ErrorMessage: err.Error()}, err
	}

	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	if err := o.store.CreateBookmark(ctx, containerID, v.URL, v.Title, names); err != nil {
		return model.VideoOutcome{Video: v, Status: model.VideoFailed, ErrorMessage: err.Error()}, err
	}

	return model.VideoOutcome{Video: v, Tags: tags, Status: model.VideoSuccess}, nil
}

// selectContainer implements the SELECT_CONTAINER state. Per the selector's
// own algorithm it needs a sample of the playlist's videos to ground the
// LLM's choice; this is a distinct, smaller fetch from the FETCH_VIDEOS
// state later in the run, and is skipped entirely when the playlist→
// container mapping is already cached. An empty container list does not
// skip it. The video source exposes no dedicated playlist-metadata
// operation, so the playlist id itself stands in for a title.
func (o *Orchestrator) selectContainer(ctx context.Context, playlistID string) (string, error) {
	if cached, ok := o.cache.PlaylistContainer(playlistID); ok {
		return cached, nil
	}
	sample, err := o.videos.ListPlaylistVideos(ctx, playlistID)
	if err != nil {
		// The selector degrades gracefully without a summary (fallback
		// path); the real fetch error surfaces again at FETCH_VIDEOS.
		return o.selector.ForPlaylist(ctx, playlistID, nil)
	}
	if len(sample) == 0 {
		return o.selector.ForPlaylist(ctx, playlistID, nil)
	}
	if len(sample) > selector.MaxSampleVideos {
		sample = sample[:selector.MaxSampleVideos]
	}
	titles := make([]string, len(sample))
	for i, v := range sample {
		titles[i] = v.Title
	}
	summary := &selector.PlaylistSummary{Title: playlistID, SampleTitles: titles}
	return o.selector.ForPlaylist(ctx, playlistID, summary)
}

func (o *Orchestrator) resolveContainerID(ctx context.Context, title string) (int, error) {
	containers, err := o.store.ListContainers(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range containers {
		if strings.EqualFold(c.Title, title) {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("container %q not found after selection", title)
}

func (o *Orchestrator) loadVocabulary(ctx context.Context) ([]model.Tag, error) {
	return o.cache.TagsOrLoad(o.principal, func() ([]model.Tag, error) {
		return o.store.ListTags(ctx)
	})
}

func (o *Orchestrator) fatal(ctx context.Context, events chan<- model.ProgressEvent, summary model.ProcessingSummary, err error) {
	send(ctx, events, model.ProgressEvent{Type: model.EventError, Message: "Fatal: " + err.Error()})
	send(ctx, events, model.ProgressEvent{Type: model.EventCompleted, Message: "processing aborted", Data: model.CompletedData{Summary: summary}})
}

// progress emits an informational progress event unless the run was asked
// to be quiet. Structural events (started, video_*, batch_completed, error,
// completed) are never routed through here; verbosity only shapes the
// informational stream.
func progress(ctx context.Context, events chan<- model.ProgressEvent, verbosity model.Verbosity, msg string) {
	if verbosity == model.VerbosityQuiet {
		return
	}
	send(ctx, events, model.ProgressEvent{Type: model.EventProgress, Message: msg})
}

// send delivers ev. The non-blocking attempt comes first so that a
// cancelled run can still flush its terminal events into the buffered
// channel (a select with both cases ready picks randomly and could drop
// them); only when the buffer is full does delivery race ctx, so a truly
// stalled consumer never wedges the pipeline.
func send(ctx context.Context, events chan<- model.ProgressEvent, ev model.ProgressEvent) {
	select {
	case events <- ev:
		return
	default:
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// applyFilters applies publishedAfter, maxDuration, then maxVideos, in that
// order. A video missing a field a filter depends on fails that filter.
func applyFilters(videos []model.VideoRef, filters *model.Filters) []model.VideoRef {
	if filters == nil {
		return videos
	}
	out := videos
	if filters.PublishedAfter != nil {
		filtered := out[:0:0]
		for _, v := range out {
			if v.PublishedAt != nil && v.PublishedAt.After(*filters.PublishedAfter) {
				filtered = append(filtered, v)
			}
		}
		out = filtered
	}
	if filters.MaxDuration != nil {
		filtered := out[:0:0]
		for _, v := range out {
			if v.DurationSeconds != nil && *v.DurationSeconds <= *filters.MaxDuration {
				filtered = append(filtered, v)
			}
		}
		out = filtered
	}
	if filters.MaxVideos != nil && *filters.MaxVideos >= 0 && *filters.MaxVideos < len(out) {
		out = out[:*filters.MaxVideos]
	}
	return out
}

var errEmptyPlaylistInput = errors.New("playlist input must not be empty")

// resolvePlaylistID normalizes a raw playlist input (either a bare id or a
// playlist URL carrying a list= query parameter) to a playlist id.
func resolvePlaylistID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errEmptyPlaylistInput
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		if id := u.Query().Get("list"); id != "" {
			return id, nil
		}
	}
	return raw, nil
}
