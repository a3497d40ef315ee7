// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"fmt"
	"sort"

	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// SmallBlockSize is one of the sub-midplane block sizes a machine's
// node-card layout can produce.
type SmallBlockSize int

const (
	Size16  SmallBlockSize = 16
	Size32  SmallBlockSize = 32
	Size64  SmallBlockSize = 64
	Size128 SmallBlockSize = 128
	Size256 SmallBlockSize = 256
)

// NodecardLayout describes one midplane's node-card-to-I/O-node
// geometry: how many compute nodes and I/O nodes a single node card
// contributes, and how many node cards make up the midplane.
//
// Grounded on bg_read_config.c's nodecard_node_cnt/nodecard_ionode_cnt
// configuration (SUPPLEMENTAL FEATURES #1): the original derives the
// per-nodecard I/O-node start from the configured cpu_ratio/io_ratio at
// runtime; this table makes that arithmetic explicit and named instead
// of inlined into the config loader.
type NodecardLayout struct {
	NodecardCount  int // node cards per midplane, typically 16
	CNodesPerCard  int // compute nodes per node card, typically 32
	IONodesPerCard int // I/O nodes per node card (1, 2 or 4 depending on I/O ratio)
}

// DefaultLayout is the 16-node-card, 32-compute-node-per-card midplane
// layout, with a 1:8 I/O ratio (4 I/O nodes per card) — the densest
// variant spec.md §6's 16/32/64/128/256 small-block sizes are named
// after.
func DefaultLayout() NodecardLayout {
	return NodecardLayout{NodecardCount: 16, CNodesPerCard: 32, IONodesPerCard: 4}
}

// TotalIONodes returns the midplane's total I/O-node count.
func (l NodecardLayout) TotalIONodes() int {
	return l.NodecardCount * l.IONodesPerCard
}

// IONodeStart returns the first I/O-node index belonging to nodecard
// nc (0-indexed).
func (l NodecardLayout) IONodeStart(nc int) int {
	return nc * l.IONodesPerCard
}

// cnodesPerIONode is how many compute nodes one I/O node serves, used
// to translate a requested small-block compute-node size into the
// I/O-node range it must reserve.
func (l NodecardLayout) cnodesPerIONode() int {
	return l.CNodesPerCard / l.IONodesPerCard
}

// IONodeSpan returns how many I/O nodes a sub-block of size cnodes
// needs under layout l.
func (l NodecardLayout) IONodeSpan(size SmallBlockSize) (int, error) {
	perIO := l.cnodesPerIONode()
	if perIO == 0 || int(size)%perIO != 0 {
		return 0, fmt.Errorf("allocator: small block size %d does not divide evenly by %d cnodes/ionode", size, perIO)
	}
	return int(size) / perIO, nil
}

// SmallBlockPlan is one small block's reserved, contiguous I/O-node
// range within a midplane.
type SmallBlockPlan struct {
	Size        SmallBlockSize
	IONodeStart int
	IONodeCount int
}

// PartitionSmallBlocks reserves a disjoint, contiguous I/O-node range
// for each requested size, packing them in descending size order so
// larger spans are not fragmented by smaller ones placed first, and
// returns an error if the midplane's I/O-node budget is exhausted.
// Sizes that total less than the midplane's I/O-node count are accepted;
// the remaining I/O nodes are left unreserved.
//
// Grounded on spec.md §4.5's small-block paragraph: "reserve a
// contiguous I/O-node range within the chosen midplane such that every
// sub-block's range is disjoint and the total equals the midplane's
// I/O-node count."
func PartitionSmallBlocks(layout NodecardLayout, sizes []SmallBlockSize) ([]SmallBlockPlan, error) {
	ordered := append([]SmallBlockSize(nil), sizes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] > ordered[j] })

	total := layout.TotalIONodes()
	cursor := 0
	plans := make([]SmallBlockPlan, 0, len(ordered))

	for _, size := range ordered {
		span, err := layout.IONodeSpan(size)
		if err != nil {
			return nil, err
		}
		if cursor+span > total {
			return nil, pkgerrors.NewNoSpaceError(fmt.Sprintf("small block size %d needs %d ionodes, only %d remain", size, span, total-cursor))
		}
		plans = append(plans, SmallBlockPlan{Size: size, IONodeStart: cursor, IONodeCount: span})
		cursor += span
	}

	return plans, nil
}
