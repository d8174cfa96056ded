// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/videotag/pipeline/internal/api"
	"github.com/videotag/pipeline/internal/bookmarkstore"
	"github.com/videotag/pipeline/internal/cache"
	"github.com/videotag/pipeline/internal/cachelayer"
	"github.com/videotag/pipeline/internal/config"
	"github.com/videotag/pipeline/internal/llm"
	xglog "github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
	"github.com/videotag/pipeline/internal/orchestrator"
	"github.com/videotag/pipeline/internal/resilience"
	"github.com/videotag/pipeline/internal/scheduler"
	"github.com/videotag/pipeline/internal/selector"
	"github.com/videotag/pipeline/internal/sweep"
	"github.com/videotag/pipeline/internal/taggen"
	"github.com/videotag/pipeline/internal/videosource"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "tagpipe",
		Version: version,
	})

	logger := xglog.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "tagpipe",
		Version: version,
	})
	logger = xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	videos := videosource.New(videosource.Config{
		BaseURL:    cfg.VideoSource.BaseURL,
		APIKey:     cfg.VideoSource.APIKey,
		Timeout:    config.ParseDuration(cfg.VideoSource.Timeout, 10*time.Second),
		MaxRetries: cfg.VideoSource.Retries,
		Dependency: config.NewDependency("videoSource", cfg.VideoSource.Breaker, cfg.VideoSource.Retry, resilience.DefaultRetryConfig()),
	})

	store := bookmarkstore.New(bookmarkstore.Config{
		BaseURL:    cfg.BookmarkStore.BaseURL,
		Username:   cfg.BookmarkStore.Username,
		Password:   cfg.BookmarkStore.Password,
		Timeout:    config.ParseDuration(cfg.BookmarkStore.Timeout, 10*time.Second),
		MaxRetries: cfg.BookmarkStore.Retries,
		Dependency: config.NewDependency("bookmarkStore", cfg.BookmarkStore.Breaker, cfg.BookmarkStore.Retry, resilience.DefaultRetryConfig()),
	})

	llmInner := llm.NewAnthropicClient(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		Timeout:         config.ParseDuration(cfg.LLM.Timeout, 30*time.Second),
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	})
	llmDep := config.NewDependency("llm", cfg.LLM.Breaker, cfg.LLM.Retry, llm.DefaultRetry())
	llmClient := llm.NewResilientClientWithDependency(llmInner, llmDep)

	backend := newCacheBackend(cfg.Cache, logger)

	cl := cachelayer.New(backend, cachelayer.TTLConfig{
		Tags:              config.ParseDuration(cfg.BookmarkStore.TagsTTL, 15*time.Minute),
		Containers:        config.ParseDuration(cfg.BookmarkStore.ContainerListTTL, time.Hour),
		PlaylistContainer: config.ParseDuration(cfg.BookmarkStore.PlaylistMappingTTL, 24*time.Hour),
	})

	sel := selector.New(store, llmClient, cl, selector.Config{
		FallbackTitle: cfg.BookmarkStore.FallbackContainer,
	})

	blocklist := taggen.ParseBlocklist(cfg.Tagging.BlockedTags)
	gen := taggen.New(llmClient, blocklist)

	orc := orchestrator.New(videos, store, sel, gen, cl, orchestrator.Config{})

	playlistCfg := scheduler.Config{
		Enabled:      cfg.Scheduler.Enabled,
		InitialDelay: config.ParseDuration(cfg.Scheduler.InitialDelay, time.Minute),
		FixedDelay:   config.ParseDuration(cfg.Scheduler.FixedDelay, time.Hour),
	}
	playlistSched := scheduler.NewPlaylistScheduler(orc, config.ParsePlaylistIDs(cfg.Scheduler.PlaylistIDs), playlistCfg)
	playlistSched.Start(ctx)

	sweeper := sweep.New(videos, store, sel, gen, cl, model.DefaultTagStrategy())
	sweepCfg := scheduler.Config{
		Enabled:      cfg.UnsortedSweeper.Enabled,
		InitialDelay: config.ParseDuration(cfg.UnsortedSweeper.InitialDelay, 2*time.Minute),
		FixedDelay:   config.ParseDuration(cfg.UnsortedSweeper.FixedDelay, 6*time.Hour),
	}
	sweepSched := scheduler.NewSweepScheduler(sweeper, sweepCfg)
	sweepSched.Start(ctx)

	srv := api.NewServer(orc, llmClient, api.MiddlewareConfig{
		AllowedOrigins:     cfg.API.AllowedOrigins,
		TrustedProxies:     cfg.API.TrustedProxies,
		TracingServiceName: "tagpipe-api",
		RateLimitEnabled:   cfg.API.RateLimitEnabled,
		RateLimitRPS:       cfg.API.RateLimitRPS,
		RateLimitBurst:     cfg.API.RateLimitBurst,
		RateLimitWhitelist: cfg.API.RateLimitWhitelist,
	})

	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: srv.Handler,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.ListenAddr).Msg("tagging pipeline listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// newCacheBackend selects the cache substrate named by cfg.Backend,
// falling back to the in-memory cache if Redis is unreachable at startup
// so a transient Redis outage doesn't block the whole pipeline from coming
// up (the degraded run simply misses the cache every time).
func newCacheBackend(cfg config.CacheConfig, logger zerolog.Logger) cache.Cache {
	if cfg.Backend == "off" {
		return cache.NewNoOpCache()
	}
	if cfg.Backend != "redis" {
		return cache.NewMemoryCache(5 * time.Minute)
	}
	backend, err := cache.NewRedisCache(cache.RedisConfig{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis cache unavailable, falling back to in-memory cache")
		return cache.NewMemoryCache(5 * time.Minute)
	}
	return backend
}
