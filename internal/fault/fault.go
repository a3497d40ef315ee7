// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package fault implements spec.md §4.8's fault propagation: recording
// failed compute-nodes against a midplane's I/O-node error bitmap,
// rolling the failure up into every intersecting block's error ratio,
// escalating a block to ERROR_FLAG once its ratio crosses the
// configured ceiling, and the down/up nodecard paths that synthesize
// or retire a small ERROR block for precisely the lost capacity.
package fault

import (
	"fmt"
	"sync"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
)

// ExceedsHook runs once for a block whose error ratio has just crossed
// MaxBlockErr, so the caller can enqueue its current jobs for requeue
// (spec.md §4.8 step 3) without this package needing to know how jobs
// are tracked.
type ExceedsHook func(b *block.Block)

// ErrRatioScale is the fixed-point denominator block.Block.ErrRatio is
// expressed in: a ratio of 2500 means 25.00% of the block's units are
// marked failed.
const ErrRatioScale = 10000

// Tracker holds the per-midplane and per-block error bitmaps and the
// policy (error-ratio ceiling, nodecard layout) needed to roll a raw
// compute-node or I/O-node failure report up into block state.
//
// Grounded on bg_record_t.cnode_err_bitmap/cnode_err_cnt/err_ratio,
// promoted from per-block C fields to an injectable tracker so the
// bitmap storage isn't duplicated across every Block value.
type Tracker struct {
	Blocks      *block.List
	Layout      allocator.NodecardLayout
	MaxBlockErr uint16 // basis points out of ErrRatioScale; 0 disables escalation
	Log         logging.Logger
	Metrics     metrics.Collector
	OnExceeds   ExceedsHook

	mu            sync.Mutex
	ioErrBitmap   map[string]map[int]bool // midplane coord string -> failed I/O-node indices
	cnodeErrBits  map[string]map[int]bool // block ID -> failed compute-node indices (non-I/O-node-granular reports)
}

// NewTracker builds a Tracker over the given block list and nodecard
// layout, with escalation disabled until MaxBlockErr is set.
func NewTracker(blocks *block.List, layout allocator.NodecardLayout) *Tracker {
	return &Tracker{
		Blocks:       blocks,
		Layout:       layout,
		Log:          logging.NewLogger(nil),
		Metrics:      metrics.NoOpCollector{},
		ioErrBitmap:  make(map[string]map[int]bool),
		cnodeErrBits: make(map[string]map[int]bool),
	}
}

// RecordMidplaneFault implements spec.md §4.8's first input shape: a
// midplane coordinate plus an I/O-node range reported failed by the
// bridge. It sets the corresponding bits in the midplane's error
// bitmap, then recomputes the error ratio of every block whose MP list
// includes mp (and, for a small block, whose I/O-node range overlaps
// the failed one). It returns every block whose ratio now meets or
// exceeds MaxBlockErr, having already marked each ERROR_FLAG and
// invoked OnExceeds for it.
func (t *Tracker) RecordMidplaneFault(mp geometry.Coord, ioNodes []int) []*block.Block {
	key := mp.String()

	t.mu.Lock()
	set := t.ioErrBitmap[key]
	if set == nil {
		set = make(map[int]bool)
		t.ioErrBitmap[key] = set
	}
	for _, n := range ioNodes {
		set[n] = true
	}
	failed := len(set)
	t.mu.Unlock()

	var exceeded []*block.Block
	for _, b := range t.Blocks.All() {
		if !blockSpansMP(b, mp) {
			continue
		}

		count := failed
		total := t.Layout.TotalIONodes()
		if b.IsSmall() {
			count = countWithin(set, b.IONodes)
			total = len(b.IONodes)
		}
		if t.applyRatio(b, count, total) {
			exceeded = append(exceeded, b)
		}
	}
	return exceeded
}

// RecordBlockFault implements spec.md §4.8's second input shape: a
// block plus a set of compute-nodes reported failed by a step-failure
// hook, bypassing midplane-level I/O-node bookkeeping entirely since
// the affected block is already known.
func (t *Tracker) RecordBlockFault(b *block.Block, cnodeIdxs []int) bool {
	t.mu.Lock()
	set := t.cnodeErrBits[b.ID]
	if set == nil {
		set = make(map[int]bool)
		t.cnodeErrBits[b.ID] = set
	}
	for _, n := range cnodeIdxs {
		set[n] = true
	}
	count := len(set)
	t.mu.Unlock()

	return t.applyRatio(b, count, int(b.CNodeCount))
}

// applyRatio recomputes b's ErrRatio from count/total and, if it now
// meets or exceeds MaxBlockErr, marks b ERROR_FLAG and runs OnExceeds.
func (t *Tracker) applyRatio(b *block.Block, count, total int) bool {
	if total <= 0 {
		return false
	}

	t.mu.Lock()
	ratio := uint16((count * ErrRatioScale) / total)
	b.ErrRatio = ratio
	exceeded := t.MaxBlockErr > 0 && ratio >= t.MaxBlockErr
	if exceeded {
		b.State |= block.ErrorFlag
	}
	t.mu.Unlock()

	t.Metrics.RecordResponse("err_ratio", b.ID, int(ratio), 0)

	if exceeded && t.OnExceeds != nil {
		t.OnExceeds(b)
	}
	return exceeded
}

// DownNodecard implements spec.md §4.8 step 4: feed the nodecard's
// I/O-node range into the midplane's error bitmap and synthesize a
// small ERROR-state block covering exactly that range, so the
// scheduler sees the lost capacity precisely instead of treating the
// whole midplane as unusable. The synthesized block is inserted into
// Blocks and returned.
func (t *Tracker) DownNodecard(mp geometry.Coord, nodecardIdx int) (*block.Block, error) {
	start := t.Layout.IONodeStart(nodecardIdx)
	ioNodes := make([]int, t.Layout.IONodesPerCard)
	for i := range ioNodes {
		ioNodes[i] = start + i
	}

	t.RecordMidplaneFault(mp, ioNodes)

	errBlock := &block.Block{
		ID:       fmt.Sprintf("nc-err-%s-%d", mp.String(), nodecardIdx),
		MPs:      []geometry.Coord{mp},
		IONodes:  ioNodes,
		State:    block.StateFree | block.ErrorFlag,
		ErrRatio: ErrRatioScale,
		Reason:   fmt.Sprintf("nodecard %d down on midplane %s", nodecardIdx, mp.String()),
	}
	t.Blocks.Insert(errBlock)
	return errBlock, nil
}

// UpNodecard implements spec.md §4.8 step 5: clear the nodecard's
// I/O-node range from the midplane's error bitmap and, if a block
// previously synthesized by DownNodecard for this exact nodecard now
// has every bit clear, return it to FREE. Reports ok=false if no such
// synthesized block is tracked (nothing to restore).
func (t *Tracker) UpNodecard(mp geometry.Coord, nodecardIdx int) (restored *block.Block, ok bool) {
	start := t.Layout.IONodeStart(nodecardIdx)
	ioNodes := make([]int, t.Layout.IONodesPerCard)
	for i := range ioNodes {
		ioNodes[i] = start + i
	}

	key := mp.String()
	t.mu.Lock()
	if set := t.ioErrBitmap[key]; set != nil {
		for _, n := range ioNodes {
			delete(set, n)
		}
	}
	remaining := countWithin(t.ioErrBitmap[key], ioNodes)
	t.mu.Unlock()

	id := fmt.Sprintf("nc-err-%s-%d", key, nodecardIdx)
	b := t.Blocks.FindByID(id)
	if b == nil {
		return nil, false
	}
	if remaining > 0 {
		return nil, false
	}

	t.mu.Lock()
	b.State = block.StateFree
	b.ErrRatio = 0
	t.mu.Unlock()
	return b, true
}

func blockSpansMP(b *block.Block, mp geometry.Coord) bool {
	for _, c := range b.MPs {
		if c.Equal(mp) {
			return true
		}
	}
	return false
}

func countWithin(set map[int]bool, allowed []int) int {
	if len(set) == 0 {
		return 0
	}
	n := 0
	for _, v := range allowed {
		if set[v] {
			n++
		}
	}
	return n
}
