// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package taggen is the tag generator: it builds the LLM prompt for a
// single video, extracts and parses the model's response, and applies the
// blocklist/confidence/sort/truncate pipeline.
package taggen

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/videotag/pipeline/internal/llm"
	"github.com/videotag/pipeline/internal/log"
	"github.com/videotag/pipeline/internal/model"
)

// Blocklist is a normalized set of tag names that must never appear in
// output.
type Blocklist map[string]struct{}

// ParseBlocklist normalizes a comma-separated configuration string into a
// Blocklist. An empty string yields an empty (disabled) blocklist.
func ParseBlocklist(raw string) Blocklist {
	bl := make(Blocklist)
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			bl[tok] = struct{}{}
		}
	}
	return bl
}

func (bl Blocklist) blocked(name string) bool {
	if len(bl) == 0 {
		return false
	}
	_, ok := bl[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Generator proposes scored tags for a video via the LLM.
type Generator struct {
	llmClient llm.Client
	blocklist Blocklist
}

// New constructs a Generator.
func New(llmClient llm.Client, blocklist Blocklist) *Generator {
	return &Generator{llmClient: llmClient, blocklist: blocklist}
}

// Generate produces an ordered list of ScoredTag for video, given the
// current tag vocabulary and the request's TagStrategy.
func (g *Generator) Generate(ctx context.Context, video model.VideoRef, vocabulary []model.Tag, strategy model.TagStrategy) ([]model.ScoredTag, error) {
	logger := log.WithComponent("taggen")

	prompt := buildPrompt(video, vocabulary, strategy, g.blocklist)
	resp, err := g.llmClient.Complete(ctx, taggenSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	raw := extractPayload(resp)
	candidates, err := parseCandidates(raw)
	if err != nil {
		// Malformed LLM output is absorbed here: the video is still
		// inserted, simply with zero tags.
		logger.Warn().Err(err).Str("video_id", video.VideoID).Msg("could not parse tag response, returning no tags")
		return nil, nil
	}

	return g.filterAndRank(candidates, strategy), nil
}

func (g *Generator) filterAndRank(candidates []model.ScoredTag, strategy model.TagStrategy) []model.ScoredTag {
	floor := strategy.ConfidenceFloor
	maxTags := strategy.MaxTags
	if maxTags <= 0 {
		maxTags = model.DefaultTagStrategy().MaxTags
	}

	kept := make([]model.ScoredTag, 0, len(candidates))
	for _, c := range candidates {
		if g.blocklist.blocked(c.Name) {
			continue
		}
		if c.Confidence < floor {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	if len(kept) > maxTags {
		kept = kept[:maxTags]
	}
	return kept
}

const taggenSystemPrompt = "You generate concise topical tags for a video. Respond with only a JSON array of " +
	"objects shaped {\"name\": string, \"confidence\": number between 0 and 1, \"preexisting\": boolean}. " +
	"Use lower-case hyphenated tag names (for example spring-boot). Do not include any explanation."

func buildPrompt(video model.VideoRef, vocabulary []model.Tag, strategy model.TagStrategy, blocklist Blocklist) string {
	var sb strings.Builder
	sb.WriteString("Video title: " + video.Title + "\n")
	if video.Description != "" {
		sb.WriteString("Video description: " + video.Description + "\n")
	}
	if len(vocabulary) > 0 {
		names := make([]string, len(vocabulary))
		for i, t := range vocabulary {
			names[i] = t.Name
		}
		sb.WriteString("\nExisting tag vocabulary (prefer reusing these and mark them preexisting=true when you do):\n")
		sb.WriteString(strings.Join(names, ", ") + "\n")
	}
	maxTags := strategy.MaxTags
	if maxTags <= 0 {
		maxTags = model.DefaultTagStrategy().MaxTags
	}
	sb.WriteString("\nReturn at most ")
	sb.WriteString(strconv.Itoa(maxTags))
	sb.WriteString(" tags with confidence at least ")
	sb.WriteString(strconv.FormatFloat(strategy.ConfidenceFloor, 'f', -1, 64))
	sb.WriteString(".\n")
	if strategy.CustomInstructions != "" {
		sb.WriteString("Additional instructions: " + strategy.CustomInstructions + "\n")
	}
	if len(blocklist) > 0 {
		names := make([]string, 0, len(blocklist))
		for n := range blocklist {
			names = append(names, n)
		}
		sort.Strings(names)
		sb.WriteString("Do not suggest any of: " + strings.Join(names, ", ") + "\n")
	}
	return sb.String()
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n(.*?)\\n```")

// extractPayload pulls the body out of a fenced code block if present,
// otherwise returns the trimmed response as-is.
func extractPayload(resp string) string {
	resp = strings.TrimSpace(resp)
	if m := fencedBlockRe.FindStringSubmatch(resp); m != nil {
		return strings.TrimSpace(m[1])
	}
	return resp
}

func parseCandidates(raw string) ([]model.ScoredTag, error) {
	var out []model.ScoredTag
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

