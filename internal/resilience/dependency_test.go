// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependency_CallSuccess(t *testing.T) {
	d := NewDependency("videoSource", RetryConfig{MaxAttempts: 2, BaseWait: time.Millisecond, Multiplier: 2, MaxWait: time.Millisecond})

	v, err := CallT(context.Background(), d, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateClosed, d.State())
}

func TestDependency_CallRetriesThenSucceeds(t *testing.T) {
	d := NewDependency("bookmarkStore", RetryConfig{MaxAttempts: 3, BaseWait: time.Millisecond, Multiplier: 2, MaxWait: time.Millisecond})

	attempts := 0
	err := d.Call(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, StateClosed, d.State())
}

func TestDependency_CallExhaustsRetriesReturnsExternalServiceUnavailable(t *testing.T) {
	d := NewDependency("llm", RetryConfig{MaxAttempts: 2, BaseWait: time.Millisecond, Multiplier: 2, MaxWait: time.Millisecond})

	err := d.Call(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	var esu *ExternalServiceUnavailable
	require.ErrorAs(t, err, &esu)
	assert.Equal(t, "llm", esu.Service)
}

func TestDependency_CallNotRetryableStopsAfterFirstAttempt(t *testing.T) {
	d := NewDependency("llm", RetryConfig{MaxAttempts: 5, BaseWait: time.Millisecond, Multiplier: 2, MaxWait: time.Millisecond})

	attempts := 0
	err := d.Call(context.Background(), func(ctx context.Context) error {
		attempts++
		return NotRetryable(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDependency_OpenBreakerShortCircuits(t *testing.T) {
	d := NewDependency("videoSource", RetryConfig{MaxAttempts: 1, BaseWait: time.Millisecond, Multiplier: 1, MaxWait: time.Millisecond})

	for i := 0; i < 10; i++ {
		_ = d.Call(context.Background(), func(ctx context.Context) error {
			return errors.New("down")
		})
	}
	require.Equal(t, StateOpen, d.State())

	called := false
	err := d.Call(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
