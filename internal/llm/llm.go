// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package llm provides a single-turn chat-completion client used by the
// collection selector and the tag generator, with an Anthropic-backed
// implementation and a resilience-wrapped decorator.
package llm

import "context"

// Client is the minimal chat-completion surface the pipeline needs: submit
// a single prompt, get back the model's text response. Any provider with a
// single-turn text-in/text-out interface can implement this.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
