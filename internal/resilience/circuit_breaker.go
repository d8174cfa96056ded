// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/videotag/pipeline/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker implements a fixed-size rolling call-count window: it
// remembers the outcome (success/technical failure) of the last windowSize
// calls in a ring buffer and trips to OPEN when the failure rate among
// those calls reaches thresholdRate. Unlike a time-based window, a call
// that happened an hour ago counts exactly as much as one that happened a
// second ago as long as it is still within the last windowSize calls - this
// is what lets the breaker express "50% of the last 10 calls" literally
// rather than as an approximation tuned for an assumed call rate.
type CircuitBreaker struct {
	mu sync.Mutex

	name string

	state    State
	openedAt time.Time

	// outcomes is the ring buffer: outcomes[i] is true if the i-th call
	// recorded since the buffer last wrapped was a technical failure. head
	// is the next slot to write; filled counts how many of the windowSize
	// slots have ever been written, so the rate is computed over filled
	// calls until the window is fully populated for the first time.
	outcomes []bool
	head     int
	filled   int

	windowSize    int
	thresholdRate float64

	successes        int
	successThreshold int
	resetTimeout     time.Duration

	clock         clock
	panicRecovery bool
}

// Option configuration pattern
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

func WithHalfOpenSuccessThreshold(n int) Option {
	return func(cb *CircuitBreaker) { cb.successThreshold = n }
}

func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.panicRecovery = enabled }
}

// NewCircuitBreaker creates a new rolling-call-count-window circuit
// breaker. thresholdRate is the failure-rate fraction (0..1) that trips the
// breaker once windowSize calls have been observed; windowSize is the
// number of most recent call outcomes retained.
func NewCircuitBreaker(name string, thresholdRate float64, windowSize int, resetTimeout time.Duration, opts ...Option) *CircuitBreaker {
	if thresholdRate <= 0 {
		thresholdRate = 0.5
	}
	if windowSize <= 0 {
		windowSize = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	cb := &CircuitBreaker{
		name:             name,
		state:            StateClosed,
		outcomes:         make([]bool, windowSize),
		windowSize:       windowSize,
		thresholdRate:    thresholdRate,
		resetTimeout:     resetTimeout,
		successThreshold: 3, // Default N=3 successes to close
		clock:            realClock{},
	}

	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetCircuitBreakerState(cb.name, cb.state.String())
	return cb
}

// Execute wraps a function call with circuit breaker logic and optional panic recovery.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.AllowRequest() {
		return ErrCircuitOpen
	}

	if cb.panicRecovery {
		defer func() {
			if r := recover(); r != nil {
				cb.RecordTechnicalFailure()
				// We don't swallow the panic, just record it as a failure
				panic(r)
			}
		}()
	}

	err := fn()
	if err != nil {
		// Note: We don't know if this is a technical failure here
		// so we assume any error returned by the function is a failure
		// for the sake of backward compatibility with the old Execute()
		cb.RecordTechnicalFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// AllowRequest checks if a request is permitted and handles transitions to HALF_OPEN.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		return true
	}

	if cb.state == StateOpen {
		if cb.clock.Now().Sub(cb.openedAt) >= cb.resetTimeout {
			cb.transitionInto(StateHalfOpen)
			return true
		}
		return false
	}

	// HALF_OPEN
	return true
}

// RecordAttempt marks the start of a dependency call. The breaker's trip
// decision is made from call outcomes (RecordSuccess/RecordTechnicalFailure),
// not from attempts in flight; this hook exists so callers can mark a call
// as started symmetrically with how they record its outcome.
func (cb *CircuitBreaker) RecordAttempt() {}

// RecordSuccess marks a successful completion or intentional cancel.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pushOutcome(false)

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionInto(StateClosed)
		}
	}
}

// RecordTechnicalFailure marks a crash, start-timeout, or stall.
func (cb *CircuitBreaker) RecordTechnicalFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.pushOutcome(true)

	if cb.state == StateHalfOpen {
		// First technical failure in HALF_OPEN trips it back to OPEN
		cb.transitionInto(StateOpen)
		return
	}

	cb.evaluate()
}

// pushOutcome records isFailure as the most recent call outcome, evicting
// the oldest outcome once the ring buffer is full.
func (cb *CircuitBreaker) pushOutcome(isFailure bool) {
	cb.outcomes[cb.head] = isFailure
	cb.head = (cb.head + 1) % cb.windowSize
	if cb.filled < cb.windowSize {
		cb.filled++
	}
}

// evaluate trips the breaker once windowSize calls have been observed and
// the failure rate among them is at or above thresholdRate. A window that
// has not yet filled for the first time never trips - there are not yet
// windowSize calls to compute a rate over.
func (cb *CircuitBreaker) evaluate() {
	if cb.state != StateClosed {
		return
	}
	if cb.filled < cb.windowSize {
		return
	}

	failures := 0
	for _, f := range cb.outcomes {
		if f {
			failures++
		}
	}

	rate := float64(failures) / float64(cb.filled)
	if rate >= cb.thresholdRate {
		cb.transitionInto(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionInto(s State) {
	if cb.state == s {
		return
	}

	cb.state = s
	switch s {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		metrics.RecordCircuitBreakerTrip(cb.name, "failure_rate_threshold")
	case StateHalfOpen:
		cb.successes = 0
	case StateClosed:
		// Reset the window on recovery so successes during HALF_OPEN probing
		// don't linger alongside the failures that originally tripped it.
		cb.outcomes = make([]bool, cb.windowSize)
		cb.head = 0
		cb.filled = 0
	}

	metrics.SetCircuitBreakerState(cb.name, s.String())
}

// GetState returns current state for metrics.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RemainingOpenDwell reports how much longer the breaker will stay OPEN
// before it allows a HALF_OPEN probe. Zero when the breaker is not open.
func (cb *CircuitBreaker) RemainingOpenDwell() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.resetTimeout - cb.clock.Now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
