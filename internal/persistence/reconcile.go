// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	"github.com/jontk/torus-allocator/internal/geometry"
)

// Mode selects how Reconcile treats a snapshot block absent from
// hardware: dropped (Strict) or recreated (Recover).
type Mode int

const (
	Strict Mode = iota
	Recover
)

// LayoutEntry is one block a static configuration names, used by
// ReconcileLayout to find blocks missing from the running set and
// blocks present that the configuration no longer names.
type LayoutEntry struct {
	ID       string
	MPs      []geometry.Coord
	ConnType []block.ConnType
	IONodes  []int
	Images   block.BlockImages
}

// Result is the outcome of reconciling a recovered snapshot against
// hardware reality.
type Result struct {
	Blocks *block.List
	// Recreate names snapshot blocks absent from hardware that Recover
	// mode kept for the caller to hand to bridge.Interface.Create.
	Recreate []string
}

// Reconcile implements spec.md §4.9's recovery algorithm: read the
// snapshot into a candidate list, then fold in whatever the bridge
// currently reports. A hardware block absent from the snapshot gets a
// minimal synthesized record (it was created by another tool). A
// snapshot block absent from hardware is either dropped (Strict) or
// kept for recreation (Recover). For a matching pair, the
// hardware-derived record wins on wiring/identity but keeps the
// snapshot's preserved fields: state, reason, and error ratio.
func Reconcile(snapshot []SnapshotBlock, hardware []bridge.BlockDesc, mode Mode) *Result {
	candidates := make(map[string]SnapshotBlock, len(snapshot))
	for _, sb := range snapshot {
		candidates[sb.ID] = sb
	}

	out := block.NewList()
	var recreate []string

	for _, hb := range hardware {
		merged := fromBridgeDesc(hb)
		if sb, ok := candidates[hb.ID]; ok {
			merged.State = sb.State
			merged.Reason = sb.Reason
			merged.ErrRatio = sb.ErrRatio
			if len(sb.Jobs) > 0 {
				merged.JobID = sb.Jobs[0].JobID
			}
			delete(candidates, hb.ID)
		}
		out.Insert(merged)
	}

	for id, sb := range candidates {
		if mode == Recover {
			out.Insert(FromSnapshotBlock(sb))
			recreate = append(recreate, id)
		}
	}

	return &Result{Blocks: out, Recreate: recreate}
}

// ReconcileLayout folds a static block-layout configuration into an
// already-reconciled block list: layout entries with no matching block
// are returned as entries to create, and blocks present in neither the
// original snapshot nor the layout are returned as entries to destroy.
// knownIDs is the set of block IDs that survived Reconcile (snapshot or
// hardware derived); a block in blocks.All() but not in knownIDs and
// not in layout is scheduled for destruction.
func ReconcileLayout(blocks *block.List, layout []LayoutEntry, knownIDs map[string]bool) (toCreate []LayoutEntry, toDestroy []string) {
	layoutByID := make(map[string]bool, len(layout))
	for _, entry := range layout {
		layoutByID[entry.ID] = true
		if blocks.FindByID(entry.ID) == nil {
			toCreate = append(toCreate, entry)
		}
	}

	for _, b := range blocks.All() {
		if layoutByID[b.ID] {
			continue
		}
		if knownIDs != nil && !knownIDs[b.ID] {
			toDestroy = append(toDestroy, b.ID)
		}
	}
	return toCreate, toDestroy
}

func fromBridgeDesc(hb bridge.BlockDesc) *block.Block {
	mps := make([]geometry.Coord, 0, len(hb.MPs))
	for _, s := range hb.MPs {
		if c, err := geometry.ParseCoord(s, len(s)); err == nil {
			mps = append(mps, c)
		}
	}
	return &block.Block{
		ID:       hb.ID,
		ConnType: append([]block.ConnType(nil), hb.ConnType...),
		IONodes:  append([]int(nil), hb.IONodes...),
		Images:   hb.Images,
		MPs:      mps,
		State:    block.StateFree,
	}
}
