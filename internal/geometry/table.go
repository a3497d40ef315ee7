// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package geometry

import "fmt"

// System describes the fixed shape of the torus: how many dimensions it
// has and how many midplanes lie along each.
type System struct {
	DimSize   []int
	TotalSize int
}

// NewSystem builds a System from a per-dimension size list, validating
// that every dimension is positive.
func NewSystem(dimSize []int) (*System, error) {
	if len(dimSize) == 0 {
		return nil, fmt.Errorf("geometry: system needs at least one dimension")
	}
	total := 1
	for i, d := range dimSize {
		if d < 1 {
			return nil, fmt.Errorf("geometry: dimension %d size %d is not positive", i, d)
		}
		total *= d
	}
	size := make([]int, len(dimSize))
	copy(size, dimSize)
	return &System{DimSize: size, TotalSize: total}, nil
}

// Dims returns the system's dimension count.
func (s *System) Dims() int {
	return len(s.DimSize)
}

// Entry is one feasible block geometry: a size in each dimension, plus
// how many of those dimensions are fully occupied (wrap all the way
// around, which makes that axis eligible for a torus connection instead
// of a mesh).
type Entry struct {
	Geometry     []int
	FullDimCount int
}

// Size returns the node count this geometry occupies.
func (e Entry) Size() int {
	n := 1
	for _, v := range e.Geometry {
		n *= v
	}
	return n
}

// Table indexes every feasible rectangular geometry of a System by the
// node count it occupies. Entries for a given size are ordered with the
// most fully-occupied-dimension geometries first, since those make the
// best torus connections and should be tried earlier by the allocator.
type Table map[int][]Entry

// BuildTable enumerates every rectangular geometry fitting within sys,
// grouped by total size.
//
// Grounded on ba_create_geo_table: walk every combination of per-dimension
// extents from 1 up to the system's own size in that dimension (via
// incrementGeometry, the Go equivalent of _incr_geo), and file each one
// under its total node count with full_dim_cnt computed alongside it.
func BuildTable(sys *System) Table {
	table := make(Table)
	dims := sys.Dims()
	idx := make([]int, dims)
	for i := range idx {
		idx[i] = 1
	}

	for {
		geometry := make([]int, dims)
		product := 1
		fullDims := 0
		for d := 0; d < dims; d++ {
			geometry[d] = idx[d]
			product *= idx[d]
			if idx[d] == sys.DimSize[d] {
				fullDims++
			}
		}

		entry := Entry{Geometry: geometry, FullDimCount: fullDims}
		table[product] = insertBySize(table[product], entry)

		if !incrementGeometry(idx, sys.DimSize) {
			break
		}
	}

	return table
}

// insertBySize inserts entry into a size bucket already sorted by
// descending FullDimCount, preserving that order; entry goes ahead of
// any existing entries with the same FullDimCount.
func insertBySize(bucket []Entry, entry Entry) []Entry {
	i := 0
	for i < len(bucket) && bucket[i].FullDimCount > entry.FullDimCount {
		i++
	}
	bucket = append(bucket, Entry{})
	copy(bucket[i+1:], bucket[i:])
	bucket[i] = entry
	return bucket
}

// incrementGeometry advances idx to the next geometry in the enumeration
// order, incrementing the last dimension first and carrying into more
// significant dimensions, each dimension cycling through 1..dimSize[d].
// Returns false once every geometry has been produced.
func incrementGeometry(idx, dimSize []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		if idx[d] < dimSize[d] {
			idx[d]++
			for i := d + 1; i < len(idx); i++ {
				idx[i] = 1
			}
			return true
		}
	}
	return false
}
