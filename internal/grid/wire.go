// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package grid

import (
	"fmt"

	"github.com/jontk/torus-allocator/internal/geometry"
)

func errUnbalancedRemovable(c geometry.Coord) error {
	return fmt.Errorf("grid: ResetRemovable called more times than SetRemovable for midplane %s", c)
}

// AlterUsage stages a usage value on mp's scratch switch for dim,
// without touching the committed AxisSwitch. The wiring engine uses
// this while it is still exploring a candidate path, so a conflict
// discovered partway through a multi-midplane wiring attempt can be
// abandoned by calling ClearAlter instead of unwinding committed state.
//
// Grounded on the original's two-switch-per-dimension layout
// (axis_switch/alter_switch) and its use during check_and_set_mp before
// the wiring is known to be conflict-free.
func (mp *MP) AlterUsage(dim int, usage Usage) {
	mp.AlterSwitch[dim].Usage |= usage
	mp.Used |= UsedAltered
}

// ClearAlter discards every staged (not yet committed) usage on mp.
func (mp *MP) ClearAlter() {
	for i := range mp.AlterSwitch {
		mp.AlterSwitch[i].Clear()
	}
	mp.Used &^= UsedAltered
}

// CommitAlter moves every staged usage from AlterSwitch into the
// committed AxisSwitch and marks the midplane used. Called once a
// wiring attempt has been fully validated across every midplane it
// touches.
func (mp *MP) CommitAlter() {
	for dim := range mp.AlterSwitch {
		mp.AxisSwitch[dim].Usage |= mp.AlterSwitch[dim].Usage
		mp.AlterSwitch[dim].Clear()
	}
	mp.Used &^= UsedAltered
	mp.Used |= UsedTrue
}

// ClearAxis releases every committed usage on mp, as happens when the
// block occupying it is freed.
func (mp *MP) ClearAxis() {
	for i := range mp.AxisSwitch {
		mp.AxisSwitch[i].Clear()
	}
	mp.Used &^= UsedTrue
}

// ResetAllSwitches clears every midplane's committed and staged switch
// usage across the whole grid. If trackDown is false, midplanes marked
// down by fault tracking are skipped, matching the original's
// distinction between a full graph rebuild and a reinitialization that
// must preserve which hardware is known bad.
func (g *Grid) ResetAllSwitches(trackDown bool, isDown func(*MP) bool) {
	for _, mp := range g.byCoord {
		if !trackDown && isDown != nil && isDown(mp) {
			continue
		}
		mp.ClearAxis()
		mp.ClearAlter()
	}
}

// SetRemovable marks every midplane named by coords as temporarily
// unavailable to the allocator's search, incrementing a per-midplane
// nesting counter so that a removable scope that partially overlaps
// another still-open scope is handled correctly: the Temp bit only
// clears once every caller that set it has released it.
//
// Grounded on ba_set_removable_mps/_internal_removable_set_mps, which
// OR/AND the BA_MP_USED_TEMP bit in and out; the nesting counter is an
// explicit replacement for the original's implicit reliance on callers
// never overlapping two removable scopes, since an accidental overlap
// there silently un-hides a midplane the outer caller still needed
// hidden. Go enforces that the outer scope wins.
func (g *Grid) SetRemovable(coords []geometry.Coord) {
	for _, c := range coords {
		mp, ok := g.MP(c)
		if !ok {
			continue
		}
		mp.removeDepth++
		mp.Used |= UsedTemp
	}
}

// ResetRemovable is the inverse of SetRemovable: it decrements the
// nesting counter for every midplane in coords, clearing the Temp bit
// only once the counter reaches zero.
func (g *Grid) ResetRemovable(coords []geometry.Coord) error {
	for _, c := range coords {
		mp, ok := g.MP(c)
		if !ok {
			continue
		}
		if mp.removeDepth == 0 {
			return errUnbalancedRemovable(c)
		}
		mp.removeDepth--
		if mp.removeDepth == 0 {
			mp.Used &^= UsedTemp
		}
	}
	return nil
}

// ResetAllRemoved forcibly clears the Temp bit and nesting counter from
// every midplane in the grid, regardless of how many SetRemovable calls
// are still outstanding. Used at error-recovery boundaries where a
// caller wants a known-clean state rather than strict nesting.
func (g *Grid) ResetAllRemoved() {
	for _, mp := range g.byCoord {
		mp.removeDepth = 0
		mp.Used &^= UsedTemp
	}
}
