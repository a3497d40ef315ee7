// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/internal/placement"
	"github.com/jontk/torus-allocator/internal/state"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// Step is a pending sub-allocation within an already-running job (a
// srun-equivalent step), the unit step_pick_nodes/step_finish/
// fail_cnode operate on.
type Step struct {
	JobID  string
	StepID string
}

// StateSave is spec.md §6's state_save(dir): write every block Main
// holds to dir's snapshot file.
func (c *Core) StateSave(dir string) error {
	c.JobReadLock.RLock()
	defer c.JobReadLock.RUnlock()
	return persistence.Save(snapshotPath(dir), c.snapshotBlocks())
}

// StateRestore is spec.md §6's state_restore(dir): load dir's snapshot
// file, fold in whatever the bridge currently reports (spec.md §4.9),
// and repopulate Main from the reconciled result.
func (c *Core) StateRestore(ctx context.Context, dir string, mode persistence.Mode) error {
	c.JobReadLock.Lock()
	defer c.JobReadLock.Unlock()

	snapshot, err := persistence.Load(snapshotPath(dir))
	if err != nil {
		return fmt.Errorf("core: state restore: %w", err)
	}

	hardware, err := c.Bridge.GetBlocks(ctx)
	if err != nil {
		return fmt.Errorf("core: state restore: %w", err)
	}

	result := persistence.Reconcile(snapshot, hardware, mode)

	for _, id := range result.Recreate {
		c.Log.Warn("recreating block missing from hardware", "block_id", id)
	}

	for _, b := range result.Blocks.All() {
		c.Main.Insert(b)
	}
	return nil
}

func snapshotPath(dir string) string {
	return dir + "/block_state"
}

// JobInit is spec.md §6's job_init(list): the controller hands Core the
// set of jobs it believes are still running across a restart, and Core
// runs state.Coordinator.SyncJobs (spec.md §4.7's sync_jobs) exactly
// once to reattach or fail each one.
func (c *Core) JobInit(ctx context.Context, running []state.RunningJob, failJob state.JobFailer, clearConfiguring state.ConfiguringClearer) {
	c.JobReadLock.Lock()
	defer c.JobReadLock.Unlock()
	c.Coordinator.SyncJobs(ctx, running, failJob, clearConfiguring)
}

// NodeInit is spec.md §6's node_init(array): it records the midplanes
// the controller already reports down, marking each removable from
// placement consideration until cleared.
func (c *Core) NodeInit(down []geometry.Coord) {
	c.JobReadLock.Lock()
	defer c.JobReadLock.Unlock()
	c.Grid.SetRemovable(down)
}

// BlockInit is spec.md §6's block_init(partitions): it reconciles a
// static or overlap layout's configured partitions against whatever
// blocks Main already holds (normally populated by StateRestore just
// before this call), creating any layout entry missing from Main. Every
// block Main already holds is passed to ReconcileLayout as known, so
// BlockInit frees none of them, including blocks the layout does not
// name.
func (c *Core) BlockInit(ctx context.Context, layout []persistence.LayoutEntry) (Outcome, error) {
	c.JobReadLock.Lock()
	defer c.JobReadLock.Unlock()

	knownIDs := make(map[string]bool, c.Main.Len())
	for _, b := range c.Main.All() {
		knownIDs[b.ID] = true
	}

	toCreate, toDestroy := persistence.ReconcileLayout(c.Main, layout, knownIDs)

	for _, entry := range toCreate {
		desc := layoutEntryToDesc(entry)
		id, err := c.Bridge.Create(ctx, desc)
		if err != nil && !pkgerrors.IsAlreadyDefined(err) {
			return outcomeFromError(err), err
		}
		if id == "" {
			id = entry.ID
		}
		c.Main.Insert(&block.Block{
			ID:       id,
			MPs:      entry.MPs,
			ConnType: entry.ConnType,
			IONodes:  entry.IONodes,
			Images:   entry.Images,
			State:    block.StateFree,
		})
	}

	for _, id := range toDestroy {
		if err := c.Coordinator.Free(ctx, id, true); err != nil {
			c.Log.Warn("block_init could not free unconfigured block", "block_id", id, "error", err)
		}
	}

	return OutcomeSuccess, nil
}

func layoutEntryToDesc(entry persistence.LayoutEntry) bridge.BlockDesc {
	mps := make([]string, len(entry.MPs))
	for i, c := range entry.MPs {
		mps[i] = c.String()
	}
	return bridge.BlockDesc{
		ID:       entry.ID,
		MPs:      mps,
		ConnType: entry.ConnType,
		IONodes:  entry.IONodes,
		Images:   entry.Images,
	}
}

// JobTest is spec.md §6's job_test: run the placement algorithm
// (spec.md §4.6, internal/placement.Policy.Place) for req and report
// the outcome plus the chosen block.
func (c *Core) JobTest(req placement.PlaceRequest) (Outcome, *placement.Result, error) {
	c.JobReadLock.RLock()
	defer c.JobReadLock.RUnlock()

	res, err := c.Placement.Place(req)
	if err != nil {
		return outcomeFromError(err), nil, err
	}
	return OutcomeSuccess, res, nil
}

// JobBegin is spec.md §6's job_begin(job): boot the block a prior
// JobTest(RUN_NOW) call assigned to job, moving it through the
// FREE→BOOTING path.
func (c *Core) JobBegin(ctx context.Context, job placement.Job, blockID string) (Outcome, error) {
	c.JobReadLock.RLock()
	defer c.JobReadLock.RUnlock()

	b := c.Main.FindByID(blockID)
	if b == nil {
		return OutcomeFatal, pkgerrors.NewNotFoundError("block", blockID)
	}

	c.BridgeAPIMu.Lock()
	err := c.Bridge.Boot(ctx, blockID)
	c.BridgeAPIMu.Unlock()
	if err != nil {
		b.State |= block.ErrorFlag
		b.Reason = err.Error()
		return outcomeFromError(err), err
	}

	b.JobID = job.ID
	// Query the bridge's own view rather than assume BOOTING: a bridge
	// may settle synchronously (internal/bridge/fake with a zero
	// TransitionDelay) before this call returns, and the event-listener
	// thread's onBridgeEvent only catches a transition that happens
	// strictly after Subscribe runs.
	if st, stErr := c.Bridge.GetBlockState(ctx, blockID); stErr == nil {
		b.State = st
	} else {
		b.State = block.StateBooting
	}
	c.Booted.Insert(b)
	c.JobRunning.Insert(b)
	return OutcomeSuccess, nil
}

// JobReady is spec.md §6's job_ready(job) → ready | retry | fatal: it
// reports whether job's block has finished booting.
func (c *Core) JobReady(blockID string) (JobReadyResult, error) {
	b := c.Main.FindByID(blockID)
	if b == nil {
		return JobReadyFatal, pkgerrors.NewNotFoundError("block", blockID)
	}

	if b.State&block.ErrorFlag != 0 {
		return JobReadyFatal, fmt.Errorf("block %s: %s", blockID, b.Reason)
	}
	switch b.State {
	case block.StateInited:
		return JobReady, nil
	case block.StateBooting:
		return JobReadyRetry, nil
	default:
		return JobReadyFatal, fmt.Errorf("block %s is in unexpected state %s for job readiness", blockID, b.State)
	}
}

// JobFini is spec.md §6's job_fini(job): free the block job was running
// on, through the canonical free entry (state.Coordinator.Free).
// destroy is true under a dynamic layout, where a block exists only for
// the lifetime of the job that created it.
func (c *Core) JobFini(ctx context.Context, blockID string) (Outcome, error) {
	c.JobReadLock.RLock()
	defer c.JobReadLock.RUnlock()

	if err := c.Coordinator.Free(ctx, blockID, c.Placement.Dynamic); err != nil {
		return outcomeFromError(err), err
	}
	return OutcomeSuccess, nil
}

// StepPickNodes is spec.md §6's step_pick_nodes(job, step, count, avail)
// → node_bitmap: find a sub-block of count compute-nodes within job's
// block, drawn from the avail bitmap.
func (c *Core) StepPickNodes(blockID string, step Step, count int, avail *allocator.CNodeBitmap) (*allocator.SubBlockResult, error) {
	if c.Main.FindByID(blockID) == nil {
		return nil, pkgerrors.NewNotFoundError("block", blockID)
	}
	return allocator.SubBlockInBitmap(avail, count, c.Table)
}

// StepFinish is spec.md §6's step_finish(step): release the
// compute-node range a prior StepPickNodes reserved, so another step of
// the same job (or a later job, once the block frees) can reuse it.
func (c *Core) StepFinish(avail *allocator.CNodeBitmap, pick *allocator.SubBlockResult) {
	avail.Release(pick.Box)
}

// UpdateBlock is spec.md §6's update_block(desc): apply an
// administrative change to an existing block's named image field via
// the bridge's modify operation (spec.md §4.10).
func (c *Core) UpdateBlock(ctx context.Context, blockID, field, value string) (Outcome, error) {
	b := c.Main.FindByID(blockID)
	if b == nil {
		return OutcomeFatal, pkgerrors.NewNotFoundError("block", blockID)
	}

	c.BridgeAPIMu.Lock()
	err := c.Bridge.Modify(ctx, blockID, field, value)
	c.BridgeAPIMu.Unlock()
	if err != nil {
		return outcomeFromError(err), err
	}

	switch field {
	case "cnload_image":
		b.Images.CnloadImage = value
	case "ioload_image":
		b.Images.IoloadImage = value
	case "mloader_image":
		b.Images.MloaderImage = value
	case "ramdisk_image":
		b.Images.RamdiskImage = value
	}
	return OutcomeSuccess, nil
}

// ReservationTest is spec.md §6's reservation_test(desc, count, avail,
// cores) → bitmap: like StepPickNodes but against an arbitrary
// requested node count rather than an already-placed job's block, used
// by the controller to validate an advance reservation request without
// committing to it.
func (c *Core) ReservationTest(count int, avail *allocator.CNodeBitmap) (*allocator.SubBlockResult, error) {
	return allocator.SubBlockInBitmap(avail, count, c.Table)
}

// FailCnode is spec.md §6's fail_cnode(step): report the compute-nodes
// backing step as failed, rolling the failure up through the fault
// tracker (internal/fault.Tracker.RecordBlockFault) and escalating the
// owning block to ERROR_FLAG if its ratio now exceeds the configured
// ceiling.
func (c *Core) FailCnode(blockID string, cnodeIdxs []int) (Outcome, error) {
	b := c.Main.FindByID(blockID)
	if b == nil {
		return OutcomeFatal, pkgerrors.NewNotFoundError("block", blockID)
	}
	c.Faults.RecordBlockFault(b, cnodeIdxs)
	return OutcomeSuccess, nil
}
