// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import "context"

// FakeClient is a deterministic, in-memory Client used by unit tests for
// the selector and tag generator.
type FakeClient struct {
	Response string
	Err      error
	Calls    []string
}

// Complete records the prompt and returns the configured canned response.
func (f *FakeClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.Calls = append(f.Calls, userPrompt)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}
