// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"

	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// RemoveBlock is the administrative force-remove entry point SUPPLEMENTAL
// FEATURES names: unlike JobFini, it runs outside any job's lifecycle and
// always destroys the block, going through the same free-coordinator
// protocol as any other free so an in-flight job on the block is failed
// rather than left pointing at a block that has vanished underneath it.
func (c *Core) RemoveBlock(ctx context.Context, blockID string, reason string) (Outcome, error) {
	c.JobReadLock.Lock()
	defer c.JobReadLock.Unlock()

	b := c.Main.FindByID(blockID)
	if b == nil {
		return OutcomeFatal, pkgerrors.NewNotFoundError("block", blockID)
	}
	if reason != "" {
		b.Reason = reason
	}

	if err := c.Coordinator.Free(ctx, blockID, true); err != nil {
		return outcomeFromError(err), err
	}
	return OutcomeSuccess, nil
}
