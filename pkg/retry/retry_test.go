// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	baerrors "github.com/jontk/torus-allocator/pkg/errors"
)

func TestBridgeCallPolicyRetriesBusyImmediately(t *testing.T) {
	p := NewBridgeCallPolicy()
	err := baerrors.New(baerrors.ErrorCodeBusy, "block busy")
	assert.True(t, p.ShouldRetry(context.Background(), err, 0))
	assert.Less(t, p.WaitTimeFor(err, 0), 200*time.Millisecond)
}

func TestBridgeCallPolicyBacksOffOnConnectionError(t *testing.T) {
	p := NewBridgeCallPolicy()
	err := baerrors.New(baerrors.ErrorCodeConnectionError, "dial failed")
	d0 := p.WaitTimeFor(err, 0)
	d3 := p.WaitTimeFor(err, 3)
	assert.Greater(t, d3, d0)
}

func TestBridgeCallPolicyInvalidStateRetriedUnlessDestroying(t *testing.T) {
	p := NewBridgeCallPolicy()
	err := baerrors.New(baerrors.ErrorCodeInvalidState, "bad transition")
	assert.True(t, p.ShouldRetry(context.Background(), err, 0))

	destroyPolicy := p.ForDestroy()
	assert.False(t, destroyPolicy.ShouldRetry(context.Background(), err, 0))
}

func TestBridgeCallPolicyStopsAtMaxRetries(t *testing.T) {
	p := NewBridgeCallPolicy().WithMaxRetries(2)
	err := baerrors.New(baerrors.ErrorCodeBusy, "x")
	assert.True(t, p.ShouldRetry(context.Background(), err, 1))
	assert.False(t, p.ShouldRetry(context.Background(), err, 2))
}

func TestBridgeCallPolicyDoesNotRetryNonRetryableErrors(t *testing.T) {
	p := NewBridgeCallPolicy()
	err := baerrors.New(baerrors.ErrorCodeInvalidInput, "bad request")
	assert.False(t, p.ShouldRetry(context.Background(), err, 0))
}

func TestBridgeCallPolicyRespectsCancelledContext(t *testing.T) {
	p := NewBridgeCallPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := baerrors.New(baerrors.ErrorCodeBusy, "x")
	assert.False(t, p.ShouldRetry(ctx, err, 0))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), NewFixedDelay(3, time.Millisecond), func() error {
		attempts++
		if attempts < 3 {
			return baerrors.New(baerrors.ErrorCodeBusy, "not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), NewFixedDelay(2, time.Millisecond), func() error {
		attempts++
		return baerrors.New(baerrors.ErrorCodeBusy, "still busy")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoDoesNotRetryNonRetryableError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), NewFixedDelay(5, time.Millisecond), func() error {
		attempts++
		return baerrors.New(baerrors.ErrorCodeInvalidInput, "bad")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestNoRetryNeverRetries(t *testing.T) {
	p := NewNoRetry()
	assert.False(t, p.ShouldRetry(context.Background(), baerrors.New(baerrors.ErrorCodeBusy, "x"), 0))
	assert.Equal(t, 0, p.MaxRetries())
}
