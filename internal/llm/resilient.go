// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import (
	"context"
	"time"

	"github.com/videotag/pipeline/internal/resilience"
)

// ResilientClient wraps a Client with the pipeline's standard circuit
// breaker and retry envelope. The LLM dependency gets a smaller retry
// budget (2 attempts) than the HTTP dependencies: model calls are slow
// and expensive, and a second identical attempt rarely recovers them.
type ResilientClient struct {
	inner Client
	dep   *resilience.Dependency
}

// NewResilientClient wraps inner with the llm dependency envelope.
func NewResilientClient(inner Client) *ResilientClient {
	return NewResilientClientWithDependency(inner, resilience.NewDependency("llm", DefaultRetry()))
}

// NewResilientClientWithDependency wraps inner with a caller-supplied
// dependency envelope, letting the main-wiring layer apply configuration-
// driven breaker/retry tuning instead of the package default.
func NewResilientClientWithDependency(inner Client, dep *resilience.Dependency) *ResilientClient {
	return &ResilientClient{inner: inner, dep: dep}
}

// DefaultRetry is the standard retry policy for the llm dependency: two
// attempts, doubling backoff from one second.
func DefaultRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 2,
		BaseWait:    time.Second,
		Multiplier:  2,
		MaxWait:     10 * time.Second,
	}
}

// Complete calls through to the inner client under the breaker and retry
// policy. A breaker-open or retry-exhausted condition surfaces as
// *resilience.ExternalServiceUnavailable. The selector treats it as a
// low-confidence response; the tag generator returns it to its caller,
// which records the video as FAILED.
func (rc *ResilientClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return resilience.CallT(ctx, rc.dep, func(ctx context.Context) (string, error) {
		return rc.inner.Complete(ctx, systemPrompt, userPrompt)
	})
}

// State reports the current breaker state for the llm dependency.
func (rc *ResilientClient) State() resilience.State {
	return rc.dep.State()
}

// RemainingOpenDwell reports how much longer the breaker will stay open, or
// zero if it is not currently open.
func (rc *ResilientClient) RemainingOpenDwell() time.Duration {
	return rc.dep.Breaker.RemainingOpenDwell()
}
