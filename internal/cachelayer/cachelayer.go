// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cachelayer builds the three typed caches the tagging pipeline
// needs (tag vocabulary, container list, playlist-to-container mapping) on
// top of the generic TTL cache substrate.
package cachelayer

import (
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/videotag/pipeline/internal/cache"
	"github.com/videotag/pipeline/internal/model"
)

// decodeAs recovers a typed value from whatever the cache backend handed
// back. The in-memory backend returns the exact type that was Set, so a
// direct assertion succeeds. The Redis backend round-trips values through
// encoding/json into a bare any, which turns structs into
// map[string]interface{} and typed slices into []interface{} - a direct
// assertion against those would always miss, silently defeating the Redis
// cache. Falling back to a JSON marshal/unmarshal pass recovers the
// original shape in that case.
func decodeAs[T any](v any) (T, bool) {
	var zero T
	if typed, ok := v.(T); ok {
		return typed, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return zero, false
	}
	return decoded, true
}

// TTLConfig holds the three configurable TTLs from the configuration table.
type TTLConfig struct {
	Tags              time.Duration
	Containers        time.Duration
	PlaylistContainer time.Duration
}

// DefaultTTLConfig returns the standard cache lifetimes.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Tags:              15 * time.Minute,
		Containers:        time.Hour,
		PlaylistContainer: 24 * time.Hour,
	}
}

const (
	tagsKeyPrefix       = "tags:"
	containersKeyPrefix = "containers:"
	playlistKeyPrefix   = "playlist-container:"
)

// Layer is the pipeline's three named cache views over a shared substrate.
type Layer struct {
	backend cache.Cache
	ttl     TTLConfig

	// group collapses concurrent misses on the same key into a single
	// in-flight remote call. Duplicate remote work on a concurrent miss
	// would be tolerable (the underlying reads are idempotent), but
	// singleflight removes it entirely for TagsOrLoad/ContainersOrLoad.
	group singleflight.Group
}

// New wraps backend with the pipeline's cache policy.
func New(backend cache.Cache, ttl TTLConfig) *Layer {
	return &Layer{backend: backend, ttl: ttl}
}

// Tags returns the cached tag vocabulary for principal, if present.
func (l *Layer) Tags(principal string) ([]model.Tag, bool) {
	v, ok := l.backend.Get(tagsKeyPrefix + principal)
	if !ok {
		return nil, false
	}
	return decodeAs[[]model.Tag](v)
}

// SetTags caches tags for principal, including the empty case.
func (l *Layer) SetTags(principal string, tags []model.Tag) {
	l.backend.Set(tagsKeyPrefix+principal, tags, l.ttl.Tags)
}

// TagsOrLoad returns the cached vocabulary for principal, or calls load on a
// miss and caches the result. Concurrent misses on the same principal share
// a single call to load rather than each firing their own request at the
// bookmark store.
func (l *Layer) TagsOrLoad(principal string, load func() ([]model.Tag, error)) ([]model.Tag, error) {
	if cached, ok := l.Tags(principal); ok {
		return cached, nil
	}
	v, err, _ := l.group.Do(tagsKeyPrefix+principal, func() (any, error) {
		tags, err := load()
		if err != nil {
			return nil, err
		}
		l.SetTags(principal, tags)
		return tags, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Tag), nil
}

// Containers returns the cached container list for principal, if present.
// An empty cached list is treated as absent so degraded episodes can
// recover once the bookmark store is reachable again.
func (l *Layer) Containers(principal string) ([]model.Container, bool) {
	v, ok := l.backend.Get(containersKeyPrefix + principal)
	if !ok {
		return nil, false
	}
	containers, ok := decodeAs[[]model.Container](v)
	if !ok || len(containers) == 0 {
		return nil, false
	}
	return containers, true
}

// SetContainers caches the container list for principal. Empty lists are not
// stored, matching the read policy above.
func (l *Layer) SetContainers(principal string, containers []model.Container) {
	if len(containers) == 0 {
		return
	}
	l.backend.Set(containersKeyPrefix+principal, containers, l.ttl.Containers)
}

// InvalidateContainers evicts the entire container cache for principal. Must
// be called whenever a new container is created.
func (l *Layer) InvalidateContainers(principal string) {
	l.backend.Delete(containersKeyPrefix + principal)
}

// ContainersOrLoad returns the cached container list for principal, or
// calls load on a miss and caches the result (subject to the same
// empty-list-is-not-cached policy as SetContainers). Concurrent misses on
// the same principal share a single call to load.
func (l *Layer) ContainersOrLoad(principal string, load func() ([]model.Container, error)) ([]model.Container, error) {
	if cached, ok := l.Containers(principal); ok {
		return cached, nil
	}
	v, err, _ := l.group.Do(containersKeyPrefix+principal, func() (any, error) {
		containers, err := load()
		if err != nil {
			return nil, err
		}
		l.SetContainers(principal, containers)
		return containers, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Container), nil
}

// PlaylistContainer returns the cached container title chosen for a
// playlist, if present.
func (l *Layer) PlaylistContainer(playlistID string) (string, bool) {
	v, ok := l.backend.Get(playlistKeyPrefix + playlistID)
	if !ok {
		return "", false
	}
	return decodeAs[string](v)
}

// SetPlaylistContainer caches the selected container title for a playlist.
func (l *Layer) SetPlaylistContainer(playlistID, title string) {
	l.backend.Set(playlistKeyPrefix+playlistID, title, l.ttl.PlaylistContainer)
}

// Stats exposes the underlying substrate's hit/miss/eviction counters for
// metrics export.
func (l *Layer) Stats() cache.CacheStats {
	return l.backend.Stats()
}
