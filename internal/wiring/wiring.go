// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"fmt"
	"strings"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/grid"
)

// Request describes the wiring a candidate block needs: the midplanes
// it occupies and the connection type to attempt on each dimension.
type Request struct {
	MPs      []geometry.Coord
	ConnType []block.ConnType // length == system dimension count
	DenyPass map[int]bool     // dimensions where a passthrough may not be used
}

// ConflictError is returned when a requested wiring cannot be set
// without colliding with another block's committed switch usage, or
// when it would require a passthrough on a dimension that denies one.
type ConflictError struct {
	Dim    int
	Coord  geometry.Coord
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("wiring: conflict on dimension %d at %s: %s", e.Dim, e.Coord, e.Reason)
}

// CheckAndSet attempts to reserve the switch ports req needs across g,
// staging every touched midplane's AlterSwitch first and only committing
// once every dimension has been checked conflict-free. Any conflict
// anywhere rolls back every staged midplane so the grid is left exactly
// as it was found.
//
// Grounded on spec.md §4.4 and the original's check_and_set_mp_list: a
// torus through d midplanes consumes UsageTorus on all d switches; a
// mesh through d midplanes consumes UsageOut on every midplane but the
// last, which gets UsageWrapped; midplanes that lie on the line but are
// not part of the block (passthroughs) get UsagePass, unless the
// dimension denies passthroughs, in which case that is itself a
// conflict.
func CheckAndSet(g *grid.Grid, req Request) error {
	touched := make(map[*grid.MP]bool)
	rollback := func() {
		for mp := range touched {
			mp.ClearAlter()
		}
	}

	dims := len(req.ConnType)
	lines := groupByLine(req.MPs, dims)

	for d := 0; d < dims; d++ {
		for _, line := range lines[d] {
			if err := wireLine(g, line, d, req.ConnType[d], req.DenyPass[d], touched); err != nil {
				rollback()
				return err
			}
		}
	}

	for mp := range touched {
		mp.CommitAlter()
	}
	return nil
}

// lineGroup is one set of coordinates in the block that vary only in
// dimension d, identified by their shared value on every other
// dimension.
type lineGroup struct {
	values []int
	base   geometry.Coord // a representative coordinate; base[d] is ignored
}

// groupByLine partitions mps into, for each dimension, the set of
// coordinate lines that dimension's values form.
func groupByLine(mps []geometry.Coord, dims int) [][]lineGroup {
	lines := make([][]lineGroup, dims)
	for d := 0; d < dims; d++ {
		byKey := make(map[string]*lineGroup)
		var order []string
		for _, c := range mps {
			key := lineKey(c, d)
			g, ok := byKey[key]
			if !ok {
				g = &lineGroup{base: c.Clone()}
				byKey[key] = g
				order = append(order, key)
			}
			g.values = append(g.values, c[d])
		}
		for _, key := range order {
			lines[d] = append(lines[d], *byKey[key])
		}
	}
	return lines
}

func lineKey(c geometry.Coord, excludeDim int) string {
	var b strings.Builder
	for i, v := range c {
		if i == excludeDim {
			continue
		}
		fmt.Fprintf(&b, "%d.", v)
	}
	return b.String()
}

func wireLine(g *grid.Grid, lg lineGroup, dim int, connType block.ConnType, denyPass bool, touched map[*grid.MP]bool) error {
	dimSize := g.System.DimSize[dim]
	a, ok := findArc(lg.values, dimSize)
	if !ok {
		return &ConflictError{Dim: dim, Coord: lg.base, Reason: "midplane set is not a contiguous arc on this dimension"}
	}

	coordAt := func(v int) geometry.Coord {
		c := lg.base.Clone()
		c[dim] = v
		return c
	}

	if a.Full {
		for _, v := range a.Values {
			if err := stage(g, coordAt(v), dim, grid.UsageTorus, touched); err != nil {
				return err
			}
		}
		return nil
	}

	if connType == block.ConnTorus {
		if denyPass {
			return &ConflictError{Dim: dim, Coord: lg.base, Reason: "torus needs a passthrough but this dimension denies passthroughs"}
		}
		for _, v := range a.Values {
			if err := stage(g, coordAt(v), dim, grid.UsageTorus, touched); err != nil {
				return err
			}
		}
		for _, v := range a.Gap {
			if err := stage(g, coordAt(v), dim, grid.UsagePass, touched); err != nil {
				return err
			}
		}
		return nil
	}

	// mesh: every midplane but the last gets Out, the last gets Wrapped
	for i, v := range a.Values {
		usage := grid.UsageOut
		if i == len(a.Values)-1 {
			usage = grid.UsageWrapped
		}
		if err := stage(g, coordAt(v), dim, usage, touched); err != nil {
			return err
		}
	}
	return nil
}

func stage(g *grid.Grid, coord geometry.Coord, dim int, usage grid.Usage, touched map[*grid.MP]bool) error {
	mp, ok := g.MP(coord)
	if !ok {
		return &ConflictError{Dim: dim, Coord: coord, Reason: "no such midplane"}
	}
	if mp.AxisSwitch[dim].Usage.Conflicts(usage) || mp.AlterSwitch[dim].Usage.Conflicts(usage) {
		return &ConflictError{Dim: dim, Coord: coord, Reason: "switch usage conflict"}
	}
	mp.AlterUsage(dim, usage)
	touched[mp] = true
	return nil
}
