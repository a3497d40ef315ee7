// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/internal/placement"
	"github.com/jontk/torus-allocator/internal/state"
)

func TestStateSaveThenRestoreRoundTrips(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	req := placement.PlaceRequest{
		Job:  placement.Job{ID: "job-1", Geometry: []int{1, 1, 1, 1}},
		Mode: placement.ModeRunNow,
	}
	_, res, err := c.JobTest(req)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, c.StateSave(dir))

	c2, _ := newTestCore(t)
	require.NoError(t, c2.StateRestore(ctx, dir, persistence.Recover))

	restored := c2.Main.FindByID(res.Block.ID)
	require.NotNil(t, restored)
}

func TestBlockInitCreatesMissingLayoutEntries(t *testing.T) {
	c, br := newTestCore(t)
	ctx := context.Background()

	layout := []persistence.LayoutEntry{
		{ID: "RMP1", MPs: []geometry.Coord{{0, 0, 0, 0}}},
	}

	outcome, err := c.BlockInit(ctx, layout)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	require.NotNil(t, c.Main.FindByID("RMP1"))

	blocks, err := br.GetBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "RMP1", blocks[0].ID)
}

func TestStepPickNodesThenFinishRoundTrips(t *testing.T) {
	c, _ := newTestCore(t)

	req := placement.PlaceRequest{
		Job:  placement.Job{ID: "job-1", Geometry: []int{1, 1, 1, 1}},
		Mode: placement.ModeRunNow,
	}
	_, res, err := c.JobTest(req)
	require.NoError(t, err)

	layout := allocator.DefaultLayout()
	shape := []int{2, 2, 2, layout.CNodesPerCard / 8}
	bitmap := allocator.NewCNodeBitmap(shape)

	pick, err := c.StepPickNodes(res.Block.ID, Step{JobID: "job-1", StepID: "0"}, 8, bitmap)
	require.NoError(t, err)
	require.NotNil(t, pick)

	c.StepFinish(bitmap, pick)
	for _, bit := range bitmap.Bits {
		assert.True(t, bit)
	}
}

func TestStepPickNodesUnknownBlockFails(t *testing.T) {
	c, _ := newTestCore(t)
	bitmap := allocator.NewCNodeBitmap([]int{2, 2, 2, 4})
	_, err := c.StepPickNodes("nope", Step{}, 8, bitmap)
	require.Error(t, err)
}

func TestFailCnodeEscalatesBlockOnHighRatio(t *testing.T) {
	c, _ := newTestCore(t)

	req := placement.PlaceRequest{
		Job:  placement.Job{ID: "job-1", Geometry: []int{1, 1, 1, 1}},
		Mode: placement.ModeRunNow,
	}
	_, res, err := c.JobTest(req)
	require.NoError(t, err)

	c.Faults.MaxBlockErr = 1 // basis points, so a single faulted node trips it

	allIdxs := make([]int, res.Block.CNodeCount)
	for i := range allIdxs {
		allIdxs[i] = i
	}

	outcome, err := c.FailCnode(res.Block.ID, allIdxs)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.NotZero(t, res.Block.State&0x1000)
}

func TestJobInitReattachesRunningJob(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	req := placement.PlaceRequest{
		Job:  placement.Job{ID: "job-1", Geometry: []int{1, 1, 1, 1}},
		Mode: placement.ModeRunNow,
	}
	_, res, err := c.JobTest(req)
	require.NoError(t, err)
	_, err = c.JobBegin(ctx, req.Job, res.Block.ID)
	require.NoError(t, err)

	var failed []string
	failJob := func(jobID, code string) { failed = append(failed, jobID) }
	clearConfiguring := func(jobID string) {}

	running := []state.RunningJob{{JobID: "job-1", BlockID: res.Block.ID}}
	c.JobInit(ctx, running, failJob, clearConfiguring)
	assert.Empty(t, failed)
}
