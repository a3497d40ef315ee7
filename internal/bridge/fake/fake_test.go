// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package fake

import (
	"context"
	"testing"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsIDWhenEmpty(t *testing.T) {
	b := New()
	id, err := b.Create(context.Background(), bridge.BlockDesc{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	st, err := b.GetBlockState(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, block.StateFree, st)
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	b := New()
	ctx := context.Background()
	_, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	_, err = b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorCodeAlreadyDefined, pkgerrors.Code(err))
}

func TestBootSettlesToInitedSynchronously(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	require.NoError(t, b.Boot(ctx, id))

	st, err := b.GetBlockState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, block.StateInited, st)
}

func TestFreeSettlesToFreeSynchronously(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)
	require.NoError(t, b.Boot(ctx, id))

	require.NoError(t, b.Free(ctx, id))

	st, err := b.GetBlockState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, block.StateFree, st)
}

func TestRemoveOfMissingBlockIsSuccess(t *testing.T) {
	b := New()
	assert.NoError(t, b.Remove(context.Background(), "nope"))
}

func TestRemoveOfNonFreeBlockFails(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)
	require.NoError(t, b.Boot(ctx, id))

	err = b.Remove(ctx, id)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorCodeInvalidState, pkgerrors.Code(err))
}

func TestModifyUpdatesNamedImageField(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	require.NoError(t, b.Modify(ctx, id, "cnload_image", "RHEL7-compute"))

	blocks, err := b.GetBlocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "RHEL7-compute", blocks[0].Images.CnloadImage)
}

func TestModifyUnknownFieldIsInvalidInput(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	err = b.Modify(ctx, id, "bogus", "x")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorCodeInvalidInput, pkgerrors.Code(err))
}

func TestSubscribeReceivesBootAndFreeTransitions(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	var got []block.State
	unsub, err := b.Subscribe(ctx, func(sc bridge.StateChange) {
		got = append(got, sc.State)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.Boot(ctx, id))
	require.NoError(t, b.Free(ctx, id))

	assert.Equal(t, []block.State{block.StateBooting, block.StateInited, block.StateTerm, block.StateFree}, got)
}

func TestUnsubscribeStopsFurtherEvents(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	count := 0
	unsub, err := b.Subscribe(ctx, func(sc bridge.StateChange) { count++ })
	require.NoError(t, err)
	unsub()

	require.NoError(t, b.Boot(ctx, id))
	assert.Equal(t, 0, count)
}

func TestGetBlockStateUnknownBlockIsNotFound(t *testing.T) {
	b := New()
	_, err := b.GetBlockState(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorCodeNotFound, pkgerrors.Code(err))
}

func TestSetStateFiresNotification(t *testing.T) {
	b := New()
	ctx := context.Background()
	id, err := b.Create(ctx, bridge.BlockDesc{ID: "blk-1"})
	require.NoError(t, err)

	var got bridge.StateChange
	unsub, err := b.Subscribe(ctx, func(sc bridge.StateChange) { got = sc })
	require.NoError(t, err)
	defer unsub()

	b.SetState(id, block.StateFree|block.ErrorFlag, "nodecard failure")

	assert.Equal(t, id, got.BlockID)
	assert.Equal(t, block.StateFree|block.ErrorFlag, got.State)
	assert.Equal(t, "nodecard failure", got.Reason)
}
