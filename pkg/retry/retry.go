// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"time"

	baerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// Policy defines the interface for bridge-call retry policies (spec.md §7).
type Policy interface {
	// ShouldRetry determines if a bridge call should be retried given the
	// error it returned and the attempt number already made (0-based).
	ShouldRetry(ctx context.Context, err error, attempt int) bool

	// WaitTime returns the wait time before the next retry.
	WaitTime(attempt int) time.Duration

	// MaxRetries returns the maximum number of retries.
	MaxRetries() int
}

// BridgeCallPolicy retries bridge calls according to the error classification
// in pkg/errors: BUSY is retried immediately (the bridge is mid-transition),
// CONNECTION_ERROR backs off exponentially, INCONSISTENT_DATA is retried
// once, and every other retryable error falls back to a fixed delay.
// INVALID_STATE is retried unless the caller
// marks the call as a destroy (destroying a block that bounces between
// states on the way down should not be retried indefinitely).
type BridgeCallPolicy struct {
	maxRetries  int
	busyDelay   time.Duration
	connBackoff *ExponentialBackoff
	fixedDelay  time.Duration
	destroying  bool
}

// NewBridgeCallPolicy creates the default bridge-call retry policy.
func NewBridgeCallPolicy() *BridgeCallPolicy {
	return &BridgeCallPolicy{
		maxRetries: 5,
		busyDelay:  100 * time.Millisecond,
		connBackoff: &ExponentialBackoff{
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.1,
			MaxAttempts:  5,
		},
		fixedDelay: 1 * time.Second,
	}
}

// WithMaxRetries sets the maximum number of retries.
func (p *BridgeCallPolicy) WithMaxRetries(n int) *BridgeCallPolicy {
	p.maxRetries = n
	return p
}

// ForDestroy returns a copy of the policy that will not retry an
// INVALID_STATE error, since a destroy call racing the block's own state
// machine should surface immediately rather than loop.
func (p *BridgeCallPolicy) ForDestroy() *BridgeCallPolicy {
	cp := *p
	cp.destroying = true
	return &cp
}

// ShouldRetry determines if a bridge call should be retried.
func (p *BridgeCallPolicy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= p.maxRetries {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}

	if err == nil {
		return false
	}

	if baerrors.IsInvalidState(err) {
		return !p.destroying
	}

	if baerrors.Code(err) == baerrors.ErrorCodeInconsistentData {
		return attempt == 0
	}

	return baerrors.IsRetryable(err)
}

// WaitTime returns the wait time before the next retry.
func (p *BridgeCallPolicy) WaitTime(attempt int) time.Duration {
	return p.fixedDelay
}

// WaitTimeFor returns the wait time before the next retry of a call that
// failed with err, routing BUSY to an immediate retry and CONNECTION_ERROR
// through exponential backoff.
func (p *BridgeCallPolicy) WaitTimeFor(err error, attempt int) time.Duration {
	switch {
	case baerrors.IsBusy(err):
		return p.busyDelay
	case baerrors.Code(err) == baerrors.ErrorCodeConnectionError:
		d, _ := p.connBackoff.NextDelay(attempt)
		return d
	default:
		return p.fixedDelay
	}
}

// MaxRetries returns the maximum number of retries.
func (p *BridgeCallPolicy) MaxRetries() int {
	return p.maxRetries
}

// FixedDelay implements a fixed delay retry policy for bridge calls whose
// failure mode doesn't warrant backoff (e.g. polling a known-slow boot).
type FixedDelay struct {
	maxRetries int
	delay      time.Duration
}

// NewFixedDelay creates a new fixed delay retry policy.
func NewFixedDelay(maxRetries int, delay time.Duration) *FixedDelay {
	return &FixedDelay{
		maxRetries: maxRetries,
		delay:      delay,
	}
}

// ShouldRetry determines if a call should be retried.
func (f *FixedDelay) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= f.maxRetries {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	default:
	}

	if err == nil {
		return false
	}

	return baerrors.IsRetryable(err)
}

// WaitTime returns the wait time before the next retry.
func (f *FixedDelay) WaitTime(attempt int) time.Duration {
	return f.delay
}

// MaxRetries returns the maximum number of retries.
func (f *FixedDelay) MaxRetries() int {
	return f.maxRetries
}

// NewBlockPollBackoff returns the bounded-retry policy spec.md §4.7 uses
// when polling a block's state from the bridge while freeing it: a fixed
// delay of 3 seconds for up to 200 attempts (~10 minutes) before the
// caller gives up and pushes the block into ERROR_FLAG.
func NewBlockPollBackoff() *FixedDelay {
	return NewFixedDelay(200, 3*time.Second)
}

// NoRetry implements a no-retry policy, for calls the caller wants to fail
// fast on (e.g. a user-facing allocate request that should report the error
// rather than mask it behind a retry loop).
type NoRetry struct{}

// NewNoRetry creates a new no-retry policy.
func NewNoRetry() *NoRetry {
	return &NoRetry{}
}

// ShouldRetry always returns false.
func (n *NoRetry) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	return false
}

// WaitTime returns zero duration.
func (n *NoRetry) WaitTime(attempt int) time.Duration {
	return 0
}

// MaxRetries returns zero.
func (n *NoRetry) MaxRetries() int {
	return 0
}

// Do runs fn, retrying according to policy until it succeeds, the policy
// declines a further retry, or ctx is cancelled.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(ctx, err, attempt) {
			return err
		}
		wait := policy.WaitTime(attempt)
		if bcp, ok := policy.(*BridgeCallPolicy); ok {
			wait = bcp.WaitTimeFor(err, attempt)
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
}
