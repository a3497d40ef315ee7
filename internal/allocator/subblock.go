// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"fmt"

	"github.com/jontk/torus-allocator/internal/geometry"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// CNodeBitmap is a flat, row-major bitmap over a single midplane's
// compute-node lattice: true means the node is available for a new
// sub-block. Shape names the lattice's per-dimension extent (a 4-D
// variant midplane is typically {2,2,2,4} = 32 compute nodes).
type CNodeBitmap struct {
	Shape []int
	Bits  []bool
}

// NewCNodeBitmap returns a bitmap over shape with every node marked
// available.
func NewCNodeBitmap(shape []int) *CNodeBitmap {
	total := 1
	for _, d := range shape {
		total *= d
	}
	bits := make([]bool, total)
	for i := range bits {
		bits[i] = true
	}
	return &CNodeBitmap{Shape: append([]int(nil), shape...), Bits: bits}
}

func (b *CNodeBitmap) index(coord []int) int {
	idx := 0
	for d, v := range coord {
		idx = idx*b.Shape[d] + v
	}
	return idx
}

// Reserve marks every coordinate in box unavailable.
func (b *CNodeBitmap) Reserve(box [][]int) {
	for _, c := range box {
		b.Bits[b.index(c)] = false
	}
}

// Release marks every coordinate in box available again.
func (b *CNodeBitmap) Release(box [][]int) {
	for _, c := range box {
		b.Bits[b.index(c)] = true
	}
}

// SubBlockResult is a placed sub-block: the starting corner and the
// geometry chosen within a midplane's compute-node lattice.
type SubBlockResult struct {
	Start    []int
	Geometry []int
	Box      [][]int
}

// SubBlockInBitmap finds a rectangular sub-region of size cnodeCount
// within bitmap whose bits are all available, trying every geometry of
// that volume from table in descending-full-dimension order (same
// ordering BuildTable already produces) and, within a geometry, every
// admissible starting corner in lexicographic order. The first fit
// wins.
//
// Grounded on spec.md §4.5/the SUPPLEMENTAL FEATURES note on
// ba_sub_block_in_bitmap: a further subdivision of a single midplane's
// compute-node lattice so more than one job can share a block, with
// ties on the lexicographically-first starting corner.
func SubBlockInBitmap(bitmap *CNodeBitmap, cnodeCount int, table geometry.Table) (*SubBlockResult, error) {
	geoms := table[cnodeCount]
	if len(geoms) == 0 {
		return nil, pkgerrors.NewNoSpaceError(fmt.Sprintf("no geometry of %d cnodes fits this midplane's lattice", cnodeCount))
	}

	for _, entry := range geoms {
		starts := subBlockStarts(bitmap.Shape, entry.Geometry)
		for _, start := range starts {
			box := subBlockBox(start, entry.Geometry)
			if bitmapAllFree(bitmap, box) {
				return &SubBlockResult{Start: start, Geometry: entry.Geometry, Box: box}, nil
			}
		}
	}

	return nil, pkgerrors.NewNoSpaceError(fmt.Sprintf("no free %d-cnode region available in this midplane", cnodeCount))
}

// subBlockStarts enumerates every starting corner, in lexicographic
// order, from which geom fits inside shape without wrapping: a
// sub-block lives entirely within one midplane's lattice and never
// wraps the way a multi-midplane block's torus dimension can.
func subBlockStarts(shape, geom []int) [][]int {
	dims := len(shape)
	maxStart := make([]int, dims)
	for d := 0; d < dims; d++ {
		if geom[d] > shape[d] {
			return nil
		}
		maxStart[d] = shape[d] - geom[d]
	}

	var out [][]int
	idx := make([]int, dims)
	for {
		out = append(out, append([]int(nil), idx...))
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

func subBlockBox(start, geom []int) [][]int {
	dims := len(geom)
	idx := make([]int, dims)
	var out [][]int
	for {
		c := make([]int, dims)
		for d := 0; d < dims; d++ {
			c[d] = start[d] + idx[d]
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

func bitmapAllFree(bitmap *CNodeBitmap, box [][]int) bool {
	for _, c := range box {
		if !bitmap.Bits[bitmap.index(c)] {
			return false
		}
	}
	return true
}
