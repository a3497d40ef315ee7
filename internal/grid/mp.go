// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package grid

import "github.com/jontk/torus-allocator/internal/geometry"

// Used is a bitmask of why a midplane is currently unavailable to the
// allocator's search.
//
// Grounded on ba_common.h's BA_MP_USED_* bits: False/True mark a
// midplane as free or committed to a block, Temp marks a midplane an
// operator has removed from consideration (set_removable), Altered
// marks a midplane whose AlterSwitch staging area holds an in-progress
// wiring attempt not yet committed, and the Pass bit distinguishes "used
// because a torus wraps through here" from "used because a block
// actually occupies it".
type Used uint16

const (
	UsedFalse       Used = 0x0000
	UsedTrue        Used = 0x0001
	UsedTemp        Used = 0x0002
	UsedAltered     Used = 0x0100
	UsedPassBit     Used = 0x1000
	UsedAlteredPass Used = 0x1100 // Altered | PassBit
)

// Has reports whether every bit in want is set.
func (u Used) Has(want Used) bool {
	return u&want == want
}

// MP is one midplane: its coordinate, a switch per dimension for the
// wiring actually committed to a block (AxisSwitch), a second switch per
// dimension used as scratch space while a candidate wiring is being
// explored (AlterSwitch), and a neighbour pointer per dimension for
// constant-time traversal along each axis.
type MP struct {
	Coord       geometry.Coord
	AxisSwitch  []Switch
	AlterSwitch []Switch
	Next        []*MP // neighbour in the +1 direction of each dimension
	Used        Used
	// removeDepth counts nested SetRemovable calls that cover this
	// midplane, so ResetRemovable only clears Temp once the outermost
	// caller releases it (ResetAllRemoved clears it regardless).
	removeDepth int
}

func newMP(coord geometry.Coord, dims int) *MP {
	return &MP{
		Coord:       coord.Clone(),
		AxisSwitch:  make([]Switch, dims),
		AlterSwitch: make([]Switch, dims),
		Next:        make([]*MP, dims),
	}
}

// CoordString renders the midplane's coordinate in the canonical
// hostlist digit form.
func (m *MP) CoordString() string {
	return m.Coord.String()
}

// IsUsed reports whether the midplane is committed to a block.
func (m *MP) IsUsed() bool {
	return m.Used.Has(UsedTrue)
}

// IsRemovable reports whether the midplane has been taken out of
// consideration by an operator (SetRemovable), regardless of whether a
// block also occupies it.
func (m *MP) IsRemovable() bool {
	return m.Used.Has(UsedTemp)
}
