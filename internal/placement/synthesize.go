// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"fmt"
	"time"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/block"
)

// synthesize implements spec.md §4.6 step 3: call the allocator against
// the grid's currently-free midplanes (no existing block's committed
// wiring can be reused, so Search naturally only finds genuinely free
// space) and either materialize the result (RUN_NOW) or return it as a
// speculative, unlisted block (TEST_ONLY/WILL_RUN).
//
// spec.md's "successively more permissive midplane sets — first over
// truly free midplanes, then over those holding only shorter-running
// jobs, then over the entire job-running list" names two further,
// increasingly permissive passes this function does not attempt
// directly: virtually freeing a running job's block to make room is
// exactly what preempt does, so a caller configured for dynamic layout
// without preemption gets only the free-midplane pass, and a caller
// that also sets FlagPreempt gets the more permissive passes via the
// preemption path below instead of a second copy of the same virtual
// free/retry logic here.
func (p *Policy) synthesize(req PlaceRequest) (*Result, error) {
	p.createDynamicMu.Lock()
	defer p.createDynamicMu.Unlock()

	connType := req.Job.ConnType
	if len(connType) == 0 {
		connType = make([]block.ConnType, p.Grid.System.Dims())
		for i := range connType {
			connType[i] = block.ConnMesh
		}
	}

	searchReq := allocator.Request{
		Geometry: req.Job.Geometry,
		ConnType: connType,
		Rotate:   req.Job.Rotate,
		Elongate: true,
		Table:    p.Table,
	}

	found, err := allocator.Search(p.Grid, searchReq)
	if err != nil {
		return nil, err
	}

	found.ID = fmt.Sprintf("dyn-%d", time.Now().UnixNano())
	found.CreatedAt = time.Now()
	found.State = block.StateFree
	found.CNodeCount = cnodeCountOf(found.Geometry)
	found.CPUCount = found.CNodeCount

	if req.Mode == ModeRunNow {
		found.JobID = req.Job.ID
		found.State = block.StateAllocated
		p.Blocks.Insert(found)
	}

	return &Result{
		Block:       found,
		StartTime:   req.Job.EarliestBegin,
		Synthesized: true,
	}, nil
}

func cnodeCountOf(geom []int) uint32 {
	n := uint32(1)
	for _, v := range geom {
		n *= uint32(v)
	}
	return n
}
