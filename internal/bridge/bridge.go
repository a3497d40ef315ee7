// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package bridge defines the abstract contract between the allocator core
// and whatever hardware control surface actually creates, boots, and frees
// blocks. Nothing in this package talks to real hardware; internal/bridgeapi
// implements Interface against an HTTP+websocket control plane and
// internal/bridge/fake implements it in memory for tests.
package bridge

import (
	"context"

	"github.com/jontk/torus-allocator/internal/block"
)

// BlockDesc describes a block to be created: its midplane span, wiring,
// and boot images. Grounded on spec.md §4.10's create(block_desc).
type BlockDesc struct {
	ID       string
	MPs      []string // midplane location strings, bridge-native form
	ConnType []block.ConnType
	IONodes  []int
	Images   block.BlockImages
}

// StateChange is one asynchronous event delivered to a subscribed
// listener: the named block moved to a new reported state.
type StateChange struct {
	BlockID string
	State   block.State
	Reason  string
}

// Listener receives StateChange events from Subscribe until ctx is
// cancelled or the bridge closes the subscription.
type Listener func(StateChange)

// Interface is the abstract bridge contract spec.md §4.10 names. Every
// method may fail with one of the ErrorCode values pkg/errors defines;
// callers route retry decisions through pkg/errors.IsRetryable and
// pkg/retry.BridgeCallPolicy rather than inspecting bridge-specific
// errors directly.
type Interface interface {
	// Create allocates a new block from desc and returns its bridge-assigned
	// ID. ALREADY_DEFINED if a block with this identity already exists.
	Create(ctx context.Context, desc BlockDesc) (string, error)

	// Boot starts the boot sequence for blockID. BOOT_ERROR on failure;
	// the caller is responsible for moving the block to ERROR_FLAG.
	Boot(ctx context.Context, blockID string) error

	// Free begins freeing blockID. NOT_FOUND is treated as already-free
	// success by the caller, not surfaced as a failure here.
	Free(ctx context.Context, blockID string) error

	// Remove deletes blockID's bridge-side record entirely, once it is
	// confirmed FREE.
	Remove(ctx context.Context, blockID string) error

	// AddUser and RemoveUser manage the set of users permitted to run on
	// blockID while it is booted.
	AddUser(ctx context.Context, blockID, user string) error
	RemoveUser(ctx context.Context, blockID, user string) error

	// Modify updates a single image field on blockID. Only valid while the
	// block is not booted.
	Modify(ctx context.Context, blockID, field, value string) error

	// GetBlocks returns every block the bridge currently knows about, used
	// by internal/persistence to reconcile a restored snapshot against
	// hardware reality.
	GetBlocks(ctx context.Context) ([]BlockDesc, error)

	// GetBlockState returns blockID's current reported state.
	GetBlockState(ctx context.Context, blockID string) (block.State, error)

	// Subscribe registers listener for asynchronous state-change events
	// and returns an unsubscribe function. The event-listener thread of
	// spec.md §5 subscribes through it, and so does cmd/bablockd's
	// block-event feed.
	Subscribe(ctx context.Context, listener Listener) (func(), error)
}
