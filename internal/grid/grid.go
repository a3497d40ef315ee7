// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package grid

import (
	"fmt"

	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/pkg/logging"
)

// Grid holds every midplane in the system, wired to its neighbours
// along each dimension so the wiring engine can walk the torus without
// repeated coordinate lookups.
type Grid struct {
	System *geometry.System
	byCoord map[string]*MP
	log     logging.Logger
}

// Init builds a Grid over sys: one MP per coordinate, with Next[dim]
// pointing to the midplane one step forward along that dimension
// (every dimension wraps around: the last midplane's Next is the first).
//
// Grounded on ba_init/ba_setup_mp: the original builds the same
// per-midplane neighbour linkage once at plugin load and reuses it for
// the lifetime of the process; Go builds it once here and returns an
// immutable topology (the mutable per-block state lives in each MP's
// AxisSwitch/Used fields, not in the topology itself).
func Init(sys *geometry.System, log logging.Logger) (*Grid, error) {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	g := &Grid{
		System:  sys,
		byCoord: make(map[string]*MP, sys.TotalSize),
		log:     log,
	}

	dims := sys.Dims()
	idx := make([]int, dims)
	for {
		coord := geometry.Coord(append([]int(nil), idx...))
		g.byCoord[coord.String()] = newMP(coord, dims)
		if !advance(idx, sys.DimSize) {
			break
		}
	}

	for _, mp := range g.byCoord {
		for dim := 0; dim < dims; dim++ {
			next := mp.Coord.Clone()
			next[dim] = (next[dim] + 1) % sys.DimSize[dim]
			mp.Next[dim] = g.byCoord[next.String()]
		}
	}

	g.log.Info("grid initialized", "total_midplanes", sys.TotalSize, "dims", dims)
	return g, nil
}

// Teardown releases the grid's midplane map. Present for symmetry with
// ba_fini and because a future reload needs a clean slate to rebuild
// against.
func (g *Grid) Teardown() {
	g.log.Info("grid torn down", "total_midplanes", len(g.byCoord))
	g.byCoord = nil
}

// MP looks up the midplane at coord.
func (g *Grid) MP(coord geometry.Coord) (*MP, bool) {
	mp, ok := g.byCoord[coord.String()]
	return mp, ok
}

// MustMP looks up the midplane at coord, panicking if it does not
// exist. Callers use this only for coordinates already validated
// against the system's dimension sizes, where a miss means the grid was
// built incorrectly, not that the input was bad.
func (g *Grid) MustMP(coord geometry.Coord) *MP {
	mp, ok := g.MP(coord)
	if !ok {
		panic(fmt.Sprintf("grid: no midplane at %s", coord))
	}
	return mp
}

// All returns every midplane in the grid. The order is unspecified.
func (g *Grid) All() []*MP {
	out := make([]*MP, 0, len(g.byCoord))
	for _, mp := range g.byCoord {
		out = append(out, mp)
	}
	return out
}

// advance is the same odometer-style increment geometry.BuildTable
// uses, but over the full [0, dimSize) coordinate space rather than a
// 1-indexed geometry extent.
func advance(idx, dimSize []int) bool {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < dimSize[d] {
			return true
		}
		idx[d] = 0
	}
	return false
}
