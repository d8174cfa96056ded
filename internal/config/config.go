// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the pipeline's configuration from an optional YAML
// file plus TAGPIPE_*-prefixed environment variable overrides, following
// the project's established file-plus-env layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/videotag/pipeline/internal/resilience"
)

// FileConfig is the on-disk YAML shape.
type FileConfig struct {
	API             APIConfig       `yaml:"api"`
	VideoSource     VideoSourceConfig `yaml:"videoSource"`
	BookmarkStore   BookmarkStoreConfig `yaml:"bookmarkStore"`
	LLM             LLMConfig       `yaml:"llm"`
	Tagging         TaggingConfig   `yaml:"tagging"`
	Cache           CacheConfig     `yaml:"cache"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	UnsortedSweeper SchedulerConfig `yaml:"unsortedProcessor"`
	Metrics         MetricsConfig   `yaml:"metrics"`
	LogLevel        string          `yaml:"logLevel"`
}

// APIConfig shapes the HTTP ingress: listen address, CORS/CSRF allowlist,
// trusted reverse-proxy CIDRs, and rate limiting.
type APIConfig struct {
	ListenAddr         string   `yaml:"listenAddr"`
	AllowedOrigins     []string `yaml:"allowedOrigins"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	RateLimitEnabled   bool     `yaml:"rateLimitEnabled"`
	RateLimitRPS       int      `yaml:"rateLimitRps"`
	RateLimitBurst     int      `yaml:"rateLimitBurst"`
	RateLimitWhitelist []string `yaml:"rateLimitWhitelist"`
}

type VideoSourceConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout string        `yaml:"timeout"`
	Retries int           `yaml:"retries"`
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryTuning   `yaml:"retry"`
}

type BookmarkStoreConfig struct {
	BaseURL            string        `yaml:"baseUrl"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            string        `yaml:"timeout"`
	Retries            int           `yaml:"retries"`
	FallbackContainer  string        `yaml:"fallbackContainer"`
	PlaylistMappingTTL string        `yaml:"playlistMappingTtl"`
	ContainerListTTL   string        `yaml:"containerListTtl"`
	TagsTTL            string        `yaml:"tagsTtl"`
	Breaker            BreakerConfig `yaml:"breaker"`
	Retry              RetryTuning   `yaml:"retry"`
}

type LLMConfig struct {
	APIKey          string        `yaml:"apiKey"`
	Model           string        `yaml:"model"`
	Timeout         string        `yaml:"timeout"`
	MaxOutputTokens int64         `yaml:"maxOutputTokens"`
	Breaker         BreakerConfig `yaml:"breaker"`
	Retry           RetryTuning   `yaml:"retry"`
}

// BreakerConfig tunes a single dependency's circuit breaker. Zero values
// mean "use the package default" (see resilience.NewDependency).
type BreakerConfig struct {
	Threshold       float64 `yaml:"threshold"`
	WindowSize      int     `yaml:"windowSize"`
	OpenDwell       string  `yaml:"openDwell"`
	HalfOpenProbes  int     `yaml:"halfOpenProbes"`
}

// RetryTuning tunes a single dependency's retry-with-backoff policy. Zero
// values mean "use the package default".
type RetryTuning struct {
	MaxAttempts int     `yaml:"maxAttempts"`
	BaseWait    string  `yaml:"baseWait"`
	Multiplier  float64 `yaml:"multiplier"`
}

type TaggingConfig struct {
	BlockedTags string `yaml:"blockedTags"`
}

type CacheConfig struct {
	Backend   string `yaml:"backend"` // "memory" | "redis" | "off"
	RedisAddr string `yaml:"redisAddr"`
	RedisDB   int    `yaml:"redisDB"`
}

// SchedulerConfig shapes both the scheduler and unsortedProcessor blocks,
// which share the same enable/fixedDelay/initialDelay surface.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	FixedDelay   string `yaml:"fixedDelay"`
	InitialDelay string `yaml:"initialDelay"`
	PlaylistIDs  string `yaml:"playlistIds"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// Load reads path (if non-empty and present) and layers TAGPIPE_* environment
// overrides on top.
func Load(path string) (FileConfig, error) {
	var cfg FileConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":8080"
	}
	if cfg.API.RateLimitRPS == 0 {
		cfg.API.RateLimitRPS = 10
		cfg.API.RateLimitBurst = 20
		cfg.API.RateLimitEnabled = true
	}
	if cfg.BookmarkStore.FallbackContainer == "" {
		cfg.BookmarkStore.FallbackContainer = "Videos"
	}
	if cfg.BookmarkStore.PlaylistMappingTTL == "" {
		cfg.BookmarkStore.PlaylistMappingTTL = "24h"
	}
	if cfg.BookmarkStore.ContainerListTTL == "" {
		cfg.BookmarkStore.ContainerListTTL = "1h"
	}
	if cfg.BookmarkStore.TagsTTL == "" {
		cfg.BookmarkStore.TagsTTL = "15m"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-3-5-haiku-latest"
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envCSV(key string, dst *[]string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = ParsePlaylistIDs(v)
	}
}

func applyEnvOverrides(cfg *FileConfig) {
	envString("TAGPIPE_API_LISTENADDR", &cfg.API.ListenAddr)
	envCSV("TAGPIPE_API_ALLOWEDORIGINS", &cfg.API.AllowedOrigins)
	envCSV("TAGPIPE_API_TRUSTEDPROXIES", &cfg.API.TrustedProxies)
	envBool("TAGPIPE_API_RATELIMITENABLED", &cfg.API.RateLimitEnabled)
	envInt("TAGPIPE_API_RATELIMITRPS", &cfg.API.RateLimitRPS)
	envInt("TAGPIPE_API_RATELIMITBURST", &cfg.API.RateLimitBurst)
	envCSV("TAGPIPE_API_RATELIMITWHITELIST", &cfg.API.RateLimitWhitelist)

	envString("TAGPIPE_VIDEOSOURCE_BASEURL", &cfg.VideoSource.BaseURL)
	envString("TAGPIPE_VIDEOSOURCE_APIKEY", &cfg.VideoSource.APIKey)
	envInt("TAGPIPE_VIDEOSOURCE_RETRIES", &cfg.VideoSource.Retries)

	envString("TAGPIPE_BOOKMARKSTORE_BASEURL", &cfg.BookmarkStore.BaseURL)
	envString("TAGPIPE_BOOKMARKSTORE_USERNAME", &cfg.BookmarkStore.Username)
	envString("TAGPIPE_BOOKMARKSTORE_PASSWORD", &cfg.BookmarkStore.Password)
	envString("TAGPIPE_BOOKMARKSTORE_FALLBACKCONTAINER", &cfg.BookmarkStore.FallbackContainer)

	envString("TAGPIPE_LLM_APIKEY", &cfg.LLM.APIKey)
	envString("TAGPIPE_LLM_MODEL", &cfg.LLM.Model)

	envString("TAGPIPE_TAGGING_BLOCKEDTAGS", &cfg.Tagging.BlockedTags)

	envString("TAGPIPE_CACHE_BACKEND", &cfg.Cache.Backend)
	envString("TAGPIPE_CACHE_REDISADDR", &cfg.Cache.RedisAddr)
	envInt("TAGPIPE_CACHE_REDISDB", &cfg.Cache.RedisDB)

	envBool("TAGPIPE_SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	envString("TAGPIPE_SCHEDULER_FIXEDDELAY", &cfg.Scheduler.FixedDelay)
	envString("TAGPIPE_SCHEDULER_INITIALDELAY", &cfg.Scheduler.InitialDelay)
	envString("TAGPIPE_SCHEDULER_PLAYLISTIDS", &cfg.Scheduler.PlaylistIDs)
	envBool("TAGPIPE_UNSORTEDPROCESSOR_ENABLED", &cfg.UnsortedSweeper.Enabled)
	envString("TAGPIPE_UNSORTEDPROCESSOR_FIXEDDELAY", &cfg.UnsortedSweeper.FixedDelay)
	envString("TAGPIPE_UNSORTEDPROCESSOR_INITIALDELAY", &cfg.UnsortedSweeper.InitialDelay)

	envBool("TAGPIPE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString("TAGPIPE_METRICS_LISTENADDR", &cfg.Metrics.ListenAddr)

	envString("TAGPIPE_LOGLEVEL", &cfg.LogLevel)
}

// ParseDuration parses a Go duration string, returning def if raw is empty
// or unparsable.
func ParseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// ToRetryConfig overlays t's non-zero fields onto base, leaving unset
// fields at base's value.
func (t RetryTuning) ToRetryConfig(base resilience.RetryConfig) resilience.RetryConfig {
	if t.MaxAttempts > 0 {
		base.MaxAttempts = t.MaxAttempts
	}
	if t.BaseWait != "" {
		base.BaseWait = ParseDuration(t.BaseWait, base.BaseWait)
	}
	if t.Multiplier > 0 {
		base.Multiplier = t.Multiplier
	}
	return base
}

// NewDependency builds a resilience.Dependency named name from b and t,
// overlaid onto baseRetry, falling back to the package's standard breaker
// shape wherever a breaker field is left unset.
func NewDependency(name string, b BreakerConfig, t RetryTuning, baseRetry resilience.RetryConfig) *resilience.Dependency {
	openDwell := ParseDuration(b.OpenDwell, 0)
	return resilience.NewDependencyTuned(name, t.ToRetryConfig(baseRetry), b.Threshold, b.WindowSize, openDwell, b.HalfOpenProbes)
}

// ParsePlaylistIDs splits a comma-separated playlistIds string into a
// trimmed, blank-filtered slice.
func ParsePlaylistIDs(raw string) []string {
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
