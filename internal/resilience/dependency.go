// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"fmt"
	"time"
)

// ExternalServiceUnavailable is returned by a Dependency when its breaker is
// open or its retry budget is exhausted. RetryAfter is the remaining open
// dwell at the moment of failure, or the full configured dwell when the
// breaker is not open.
type ExternalServiceUnavailable struct {
	Service    string
	RetryAfter time.Duration
	Cause      error
}

func (e *ExternalServiceUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("%s unavailable", e.Service)
}

func (e *ExternalServiceUnavailable) Unwrap() error { return e.Cause }

// Dependency binds a named circuit breaker to a retry policy and gives
// callers a single Call entry point that applies both. This is the envelope
// every outbound call to the video source, bookmark store, and LLM passes
// through.
type Dependency struct {
	Name    string
	Breaker *CircuitBreaker
	Retry   RetryConfig
	// Dwell is the breaker's configured open dwell, reported verbatim in
	// ExternalServiceUnavailable.RetryAfter when the breaker is not open.
	Dwell time.Duration
}

// NewDependency constructs a named dependency envelope with the standard
// breaker shape: 50% failure rate over a rolling window of the last 10
// calls, 30s open dwell, 3 half-open successes to close.
func NewDependency(name string, retry RetryConfig) *Dependency {
	const window = 10
	const thresholdRate = 0.5
	const dwell = 30 * time.Second
	cb := NewCircuitBreaker(name, thresholdRate, window, dwell, WithHalfOpenSuccessThreshold(3))
	return &Dependency{Name: name, Breaker: cb, Retry: retry, Dwell: dwell}
}

// NewDependencyTuned is NewDependency with the breaker's failure-rate
// threshold, window size, open dwell, and half-open probe count all
// overridable; a zero/negative value for any of them falls back to the
// standard shape used by NewDependency.
func NewDependencyTuned(name string, retry RetryConfig, thresholdRate float64, windowSize int, openDwell time.Duration, halfOpenProbes int) *Dependency {
	if windowSize <= 0 {
		windowSize = 10
	}
	if thresholdRate <= 0 {
		thresholdRate = 0.5
	}
	if openDwell <= 0 {
		openDwell = 30 * time.Second
	}
	if halfOpenProbes <= 0 {
		halfOpenProbes = 3
	}
	cb := NewCircuitBreaker(name, thresholdRate, windowSize, openDwell, WithHalfOpenSuccessThreshold(halfOpenProbes))
	return &Dependency{Name: name, Breaker: cb, Retry: retry, Dwell: openDwell}
}

// Call executes fn under the dependency's breaker and retry policy. A
// retried-then-successful call counts as a single success to the breaker; a
// call that exhausts retries or finds the breaker open returns a single
// ExternalServiceUnavailable rather than per-attempt errors.
func (d *Dependency) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.Breaker.AllowRequest() {
		return &ExternalServiceUnavailable{Service: d.Name, RetryAfter: d.retryAfter(), Cause: ErrCircuitOpen}
	}

	d.Breaker.RecordAttempt()
	err := RetryWithBackoff(ctx, d.Retry, fn)
	if err != nil {
		d.Breaker.RecordTechnicalFailure()
		return &ExternalServiceUnavailable{Service: d.Name, RetryAfter: d.retryAfter(), Cause: err}
	}
	d.Breaker.RecordSuccess()
	return nil
}

// retryAfter reports the breaker's actual remaining open dwell (the full
// dwell when this call just tripped it), falling back to the configured
// dwell when the breaker is not open, e.g. when retries were exhausted
// without tripping it.
func (d *Dependency) retryAfter() time.Duration {
	if remaining := d.Breaker.RemainingOpenDwell(); remaining > 0 {
		return remaining
	}
	return d.Dwell
}

// CallT is the generic form of Call for dependency calls that produce a
// value. It is the entry point used by components that need a typed result
// (a video list, a container list) rather than a bare error.
func CallT[T any](ctx context.Context, d *Dependency, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := d.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// State reports the dependency's current breaker state, used to populate
// CircuitState in status/health responses.
func (d *Dependency) State() State {
	return d.Breaker.GetState()
}
