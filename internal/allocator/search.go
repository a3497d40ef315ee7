// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package allocator searches the grid for a rectangular block matching
// a requested geometry, partitions a single midplane into small blocks
// by I/O-node range, and places sub-block jobs inside a midplane's
// compute-node lattice.
package allocator

import (
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/grid"
	"github.com/jontk/torus-allocator/internal/wiring"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// Request describes a rectangular block search.
type Request struct {
	Geometry []int
	ConnType []block.ConnType
	DenyPass map[int]bool

	// Rotate, if true, also tries every unique axis permutation of
	// Geometry.
	Rotate bool

	// Elongate, if true, also tries every other geometry of the same
	// volume drawn from Table.
	Elongate bool
	Table    geometry.Table

	// StartCoord fixes the search to a single starting coordinate, for
	// callers (e.g. a reconnect to previously recorded placement) that
	// already know where the block must go. Nil searches every
	// admissible start in lexicographic order.
	StartCoord *geometry.Coord
}

// Search looks for a free rectangular region of g matching req,
// trying candidate geometries and starting coordinates in the order
// spec.md §4.5 describes, and returns the block placed there.
//
// Grounded on spec.md §4.5's rectangular-block algorithm: for each
// candidate geometry (requested, then rotations, then same-volume
// elongations), for each admissible starting coordinate in
// lexicographic order, stage a wiring attempt over the box and keep
// the first one that does not conflict.
func Search(g *grid.Grid, req Request) (*block.Block, error) {
	candidates := candidateGeometries(req)

	for _, geom := range candidates {
		starts := admissibleStarts(g.System.DimSize, geom, req.StartCoord)
		for _, start := range starts {
			box := boxCoords(start, geom, g.System.DimSize)

			outside := complement(g.All(), box)
			g.SetRemovable(outside)

			wireReq := wiring.Request{MPs: box, ConnType: req.ConnType, DenyPass: req.DenyPass}
			err := wiring.CheckAndSet(g, wireReq)

			_ = g.ResetRemovable(outside)

			if err == nil {
				return &block.Block{
					MPs:      box,
					Geometry: geom,
					Start:    start,
					ConnType: req.ConnType,
				}, nil
			}
		}
	}

	return nil, pkgerrors.NewNoSpaceError(requestDesc(req))
}

func requestDesc(req Request) string {
	return "geometry=" + geometry.Coord(req.Geometry).String()
}

// candidateGeometries builds the ordered list of geometries to try:
// the requested geometry, then its rotations if requested, then every
// other geometry of the same volume if elongation is requested.
func candidateGeometries(req Request) [][]int {
	seen := map[string]bool{}
	var out [][]int

	add := func(g []int) {
		key := geometry.Coord(g).String()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, g)
	}

	add(req.Geometry)

	if req.Rotate {
		for _, rot := range geometry.UniqueRotations(req.Geometry) {
			add(rot)
		}
	}

	if req.Elongate && req.Table != nil {
		size := geometry.Entry{Geometry: req.Geometry}.Size()
		for _, entry := range req.Table[size] {
			add(entry.Geometry)
		}
	}

	return out
}

// admissibleStarts returns every starting coordinate from which geom
// fits within dimSize without running off the edge, unless a fixed
// start was requested, in which case that is the only candidate (if it
// fits). A dimension where geom covers the full size can start anywhere
// along that axis since it wraps all the way around; here it is pinned
// to 0 since every rotation of the full ring is equivalent.
func admissibleStarts(dimSize, geom []int, fixed *geometry.Coord) []geometry.Coord {
	for d := range geom {
		if geom[d] > dimSize[d] {
			// requesting more extent than the dimension has is never
			// satisfiable, wrapping or not
			return nil
		}
	}

	if fixed != nil {
		if fits(*fixed, geom, dimSize) {
			return []geometry.Coord{*fixed}
		}
		return nil
	}

	dims := len(dimSize)
	maxStart := make([]int, dims)
	for d := 0; d < dims; d++ {
		if geom[d] == dimSize[d] {
			maxStart[d] = 0
		} else {
			maxStart[d] = dimSize[d] - geom[d]
		}
	}

	var out []geometry.Coord
	idx := make([]int, dims)
	for {
		out = append(out, geometry.Coord(append([]int(nil), idx...)))
		d := dims - 1
		for d >= 0 {
			idx[d]++
			if idx[d] <= maxStart[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}
	return out
}

func fits(start geometry.Coord, geom, dimSize []int) bool {
	for d := range geom {
		if geom[d] < dimSize[d] && start[d]+geom[d] > dimSize[d] {
			return false
		}
	}
	return true
}

// boxCoords enumerates every coordinate in the rectangular box starting
// at start with extent geom, wrapping on any dimension where geom
// covers the full dimension size.
func boxCoords(start, geom, dimSize []int) []geometry.Coord {
	dims := len(geom)
	idx := make([]int, dims)
	var out []geometry.Coord
	for {
		c := make(geometry.Coord, dims)
		for d := 0; d < dims; d++ {
			c[d] = (start[d] + idx[d]) % dimSize[d]
		}
		out = append(out, c)

		d := dims - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < geom[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}
	return out
}

func complement(all []*grid.MP, box []geometry.Coord) []geometry.Coord {
	inBox := make(map[string]bool, len(box))
	for _, c := range box {
		inBox[c.String()] = true
	}
	var out []geometry.Coord
	for _, mp := range all {
		if !inBox[mp.CoordString()] {
			out = append(out, mp.Coord)
		}
	}
	return out
}
