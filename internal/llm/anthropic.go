// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-haiku-latest"

// Config configures the Anthropic-backed client.
type Config struct {
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxOutputTokens int64
}

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	sdk     anthropic.Client
	model   string
	maxToks int64
	timeout time.Duration
}

// NewAnthropicClient constructs a client bound to cfg.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxToks := cfg.MaxOutputTokens
	if maxToks <= 0 {
		maxToks = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicClient{
		sdk:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		maxToks: maxToks,
		timeout: timeout,
	}
}

// Complete submits a single-turn prompt and returns the concatenated text
// content of the model's response.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxToks,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	if msg == nil || len(msg.Content) == 0 {
		return "", errors.New("llm: empty response")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("llm: response contained no text content")
	}
	return sb.String(), nil
}
