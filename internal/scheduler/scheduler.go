// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler drives the pipeline's two periodic triggers: a
// fixed-delay re-submission of a configured list of playlists to the
// orchestrator, and a fixed-delay pass of the unsorted bookmark sweeper.
// Both share the same start-after-initial-delay, run-every-fixed-delay
// shape.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/orchestrator"
	"github.com/videotag/pipeline/internal/sweep"
)

// Config shapes a single scheduled trigger.
type Config struct {
	Enabled      bool
	InitialDelay time.Duration
	FixedDelay   time.Duration
}

// PlaylistScheduler periodically re-submits a fixed list of playlists to
// the orchestrator, tolerating per-playlist failures so one bad playlist
// doesn't stop the rest from being processed this tick.
type PlaylistScheduler struct {
	orc         *orchestrator.Orchestrator
	playlistIDs []string
	cfg         Config
	logger      zerolog.Logger
}

// NewPlaylistScheduler constructs a scheduler that drives orc over
// playlistIDs on cfg's cadence.
func NewPlaylistScheduler(orc *orchestrator.Orchestrator, playlistIDs []string, cfg Config) *PlaylistScheduler {
	return &PlaylistScheduler{orc: orc, playlistIDs: playlistIDs, cfg: cfg, logger: log.WithComponent("scheduler.playlists")}
}

// Start runs the scheduling loop in a background goroutine until ctx is
// cancelled. It is a no-op if the schedule is disabled or carries no
// playlists.
func (s *PlaylistScheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled || len(s.playlistIDs) == 0 {
		return
	}
	go s.loop(ctx)
}

func (s *PlaylistScheduler) loop(ctx context.Context) {
	s.logger.Info().Int("playlists", len(s.playlistIDs)).Dur("fixed_delay", s.cfg.FixedDelay).Msg("playlist scheduler started")

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("playlist scheduler stopping")
			return
		case <-timer.C:
			s.runOnce(ctx)
			timer.Reset(s.cfg.FixedDelay)
		}
	}
}

// runOnce submits every configured playlist in order, draining each run's
// event stream for its terminal summary before moving to the next
// playlist. A single playlist's failure is logged and does not stop the
// rest of the batch from running this tick.
func (s *PlaylistScheduler) runOnce(ctx context.Context) {
	succeeded, failed := 0, 0
	for _, playlistID := range s.playlistIDs {
		if ctx.Err() != nil {
			break
		}
		summary, err := s.runPlaylist(ctx, playlistID)
		if err != nil {
			failed++
			s.logger.Warn().Str("playlist_id", playlistID).Err(err).Msg("scheduled playlist run failed")
			continue
		}
		succeeded++
		s.logger.Info().
			Str("playlist_id", playlistID).
			Int("total", summary.Total).
			Int("succeeded", summary.Succeeded).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Msg("scheduled playlist run complete")
	}
	s.logger.Info().Int("succeeded", succeeded).Int("failed", failed).Msg("scheduled playlist sweep complete")
}

func (s *PlaylistScheduler) runPlaylist(ctx context.Context, playlistID string) (model.ProcessingSummary, error) {
	req := model.TagPlaylistRequest{PlaylistInputRaw: playlistID}
	var summary model.ProcessingSummary
	var fatalErr error
	for ev := range s.orc.Run(ctx, req) {
		switch ev.Type {
		case model.EventCompleted:
			if data, ok := ev.Data.(model.CompletedData); ok {
				summary = data.Summary
			}
		case model.EventError:
			if fatalErr == nil {
				fatalErr = &scheduledRunError{playlistID: playlistID, message: ev.Message}
			}
		}
	}
	return summary, fatalErrorOrNil(fatalErr, summary)
}

// fatalErrorOrNil reports the run as failed only when it produced zero
// processed videos, matching the orchestrator's own fatal-abort shape
// (summary.Total stays 0 for input/selection failures).
func fatalErrorOrNil(err error, summary model.ProcessingSummary) error {
	if err != nil && summary.Total == 0 && summary.Succeeded == 0 {
		return err
	}
	return nil
}

type scheduledRunError struct {
	playlistID string
	message    string
}

func (e *scheduledRunError) Error() string {
	return e.playlistID + ": " + e.message
}

// SweepScheduler periodically runs the unsorted bookmark sweeper.
type SweepScheduler struct {
	sweeper *sweep.Sweeper
	cfg     Config
	logger  zerolog.Logger
}

// NewSweepScheduler constructs a scheduler that drives sweeper on cfg's
// cadence.
func NewSweepScheduler(sweeper *sweep.Sweeper, cfg Config) *SweepScheduler {
	return &SweepScheduler{sweeper: sweeper, cfg: cfg, logger: log.WithComponent("scheduler.sweep")}
}

// Start runs the sweep loop in a background goroutine until ctx is
// cancelled. It is a no-op if the schedule is disabled.
func (s *SweepScheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	go s.loop(ctx)
}

func (s *SweepScheduler) loop(ctx context.Context) {
	s.logger.Info().Dur("fixed_delay", s.cfg.FixedDelay).Msg("unsorted sweep scheduler started")

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("unsorted sweep scheduler stopping")
			return
		case <-timer.C:
			result := s.sweeper.Run(ctx)
			s.logger.Info().
				Int("total", result.Total).
				Int("succeeded", result.Succeeded).
				Int("failed", result.Failed).
				Msg("unsorted sweep complete")
			timer.Reset(s.cfg.FixedDelay)
		}
	}
}
