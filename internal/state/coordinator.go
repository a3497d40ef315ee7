// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package state implements the block lifecycle state machine and the
// free coordinator spec.md §4.7 describes: bg_free_block's bounded-retry
// polling loop, the track_freeing_blocks background sweep, and the
// sync_jobs controller-restart reconciliation.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/retry"
)

// JobBootFailCode is the failure code sync_jobs enqueues for a running
// job whose assigned block no longer exists after a controller restart.
const JobBootFailCode = "JOB_BOOT_FAIL"

// PostFreeHook runs once a block's free count has drained to zero and
// its state is confirmed FREE or ERROR. destroy mirrors the caller's own
// destroy parameter: true means the post-free action should remove the
// block from the bridge entirely, false means restore it to the free
// pool for reuse, matching spec.md's "depending on layout mode and the
// destroy parameter".
type PostFreeHook func(b *block.Block, destroy bool)

// RunningJob is one entry of the job list sync_jobs reconciles at
// startup: a job the controller believes is still running, and the
// block ID it was assigned.
type RunningJob struct {
	JobID   string
	BlockID string
}

// JobFailer enqueues jobID for failure with the given reason code.
type JobFailer func(jobID, code string)

// ConfiguringClearer clears the controller's "configuring" flag for
// jobID, called only when the reattached block is already INITED.
type ConfiguringClearer func(jobID string)

// Coordinator owns the free-coordination and sync-on-restart logic
// against the three block lists a core plugin instance keeps (grounded
// on bg_lists_t's main/booted/job_running triad — see internal/block's
// package doc comment). Booted and JobRunning may be left nil by a
// caller that doesn't split them out from Main.
type Coordinator struct {
	Main       *block.List
	Booted     *block.List
	JobRunning *block.List

	Bridge     bridge.Interface
	PollPolicy retry.Policy
	Log        logging.Logger
	PostFree   PostFreeHook

	// mu serializes state-field mutation across concurrent free/sync
	// callers, standing in for spec.md §5's block_state_mutex (the
	// block.List's own mutex only guards list membership, not the
	// fields of an individual Block already in the list).
	mu sync.Mutex
}

// NewCoordinator builds a Coordinator with the default poll policy and a
// no-op logger.
func NewCoordinator(main *block.List, br bridge.Interface) *Coordinator {
	return &Coordinator{
		Main:       main,
		Bridge:     br,
		PollPolicy: retry.NewBlockPollBackoff(),
		Log:        logging.NewLogger(nil),
	}
}

// WithPostFree attaches the post-free hook and returns c for chaining.
func (c *Coordinator) WithPostFree(hook PostFreeHook) *Coordinator {
	c.PostFree = hook
	return c
}

// Free is the canonical entry spec.md §4.7 names bg_free_block: it
// increments the block's free count, polls the bridge for its state up
// to the configured retry budget (releasing the state lock between
// polls so other freers may proceed concurrently), and on confirmation
// clears the block's job assignment. On exhausting the retry budget the
// block is pushed into ERROR_FLAG instead of returning success. The
// post-free hook runs only once free_cnt has drained to zero.
func (c *Coordinator) Free(ctx context.Context, blockID string, destroy bool) error {
	b := c.Main.FindByID(blockID)
	if b == nil {
		return pkgerrors.NewNotFoundError("block", blockID)
	}

	c.mu.Lock()
	b.FreeCount++
	c.mu.Unlock()

	pollErr := c.pollUntilFree(ctx, b)

	c.mu.Lock()
	b.FreeCount--
	drained := b.FreeCount <= 0
	if pollErr != nil {
		b.State |= block.ErrorFlag
		b.Reason = pollErr.Error()
	} else if drained {
		b.JobID = ""
		b.JobList = nil
	}
	c.mu.Unlock()

	if pollErr != nil {
		return pollErr
	}
	if drained {
		c.removeFromAuxLists(b)
		if c.PostFree != nil {
			c.PostFree(b, destroy)
		}
	}
	return nil
}

// pollUntilFree polls the bridge for b's state, issuing a free call on
// the first poll that shows the block not yet FREE/ERROR, until either
// the block settles or the poll budget is exhausted.
func (c *Coordinator) pollUntilFree(ctx context.Context, b *block.Block) error {
	requestedFree := false
	maxAttempts := c.PollPolicy.MaxRetries()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		st, err := c.Bridge.GetBlockState(ctx, b.ID)
		switch {
		case err != nil && pkgerrors.IsNotFound(err):
			return nil
		case err != nil && !pkgerrors.IsRetryable(err):
			return err
		case err == nil && (st == block.StateFree || st&block.ErrorFlag != 0):
			c.mu.Lock()
			b.State = st
			c.mu.Unlock()
			return nil
		case err == nil:
			c.mu.Lock()
			b.State = st
			c.mu.Unlock()
		}

		if !requestedFree {
			if ferr := c.Bridge.Free(ctx, b.ID); ferr == nil || pkgerrors.IsNotFound(ferr) {
				requestedFree = true
			} else if !pkgerrors.IsRetryable(ferr) {
				return ferr
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollPolicy.WaitTime(attempt)):
		}
	}

	return pkgerrors.New(pkgerrors.ErrorCodeInvalidState, "free retry budget exhausted")
}

func (c *Coordinator) removeFromAuxLists(b *block.Block) {
	if c.Booted != nil {
		c.Booted.Remove(b)
	}
	if c.JobRunning != nil {
		c.JobRunning.Remove(b)
	}
}

// TrackFreeingBlocks starts a background sweep (grounded on pkg/watch's
// periodic poll-and-diff pattern, adapted to watch a fixed list instead
// of an open-ended resource collection) that reads the given blocks'
// already-tracked State field until every one reaches FREE or
// ERROR_FLAG, then runs the post-free hook for each and returns. It
// reads state rather than re-polling the bridge itself: the
// event-listener/poll-thread pair of spec.md §5 is what keeps a block's
// in-memory State current, so this sweep only needs to notice the
// change.
func (c *Coordinator) TrackFreeingBlocks(ctx context.Context, blockIDs []string, destroy bool) {
	go c.trackFreeingBlocksLoop(ctx, blockIDs, destroy)
}

func (c *Coordinator) trackFreeingBlocksLoop(ctx context.Context, blockIDs []string, destroy bool) {
	remaining := append([]string(nil), blockIDs...)
	interval := c.PollPolicy.WaitTime(0)
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next := remaining[:0:0]
		for _, id := range remaining {
			b := c.Main.FindByID(id)
			if b == nil {
				continue
			}
			c.mu.Lock()
			settled := b.State == block.StateFree || b.State&block.ErrorFlag != 0
			c.mu.Unlock()
			if settled {
				if c.PostFree != nil {
					c.PostFree(b, destroy)
				}
				continue
			}
			next = append(next, id)
		}
		remaining = next
	}
}

// SyncJobs runs exactly once at controller-restart startup. For each
// job the controller reports as still running, it reattaches the job to
// its assigned block if that block still exists (clearing the block's
// "configuring" state through clearConfiguring when the block is
// INITED), or enqueues the job for failure with JobBootFailCode if the
// block is gone. Every block left without a job afterward is enqueued
// for free.
func (c *Coordinator) SyncJobs(ctx context.Context, jobs []RunningJob, failJob JobFailer, clearConfiguring ConfiguringClearer) {
	attached := make(map[string]bool, len(jobs))

	for _, j := range jobs {
		b := c.Main.FindByID(j.BlockID)
		if b == nil {
			if failJob != nil {
				failJob(j.JobID, JobBootFailCode)
			}
			continue
		}

		c.mu.Lock()
		b.JobID = j.JobID
		inited := b.State == block.StateInited
		c.mu.Unlock()

		attached[b.ID] = true
		if c.Booted != nil {
			c.Booted.Insert(b)
		}
		if c.JobRunning != nil {
			c.JobRunning.Insert(b)
		}
		if inited && clearConfiguring != nil {
			clearConfiguring(j.JobID)
		}
	}

	for _, b := range c.Main.All() {
		if b.JobID != "" || attached[b.ID] {
			continue
		}
		go func(id string) {
			_ = c.Free(ctx, id, false)
		}(b.ID)
	}
}
