// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"github.com/jontk/torus-allocator/internal/block"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// preempt implements spec.md §4.6 step 4: walk the caller-supplied
// preemptee candidates in order, virtually freeing one block at a time
// and retrying the best-fit match, stopping as soon as a match
// succeeds. The returned Preempted list names exactly the candidates
// whose removal was needed, not the whole candidate list, matching
// spec.md's "exactly the set whose removal was required".
func (p *Policy) preempt(req PlaceRequest) (*Result, error) {
	all := p.Blocks.All()
	freed := make(map[string]*block.Block) // job ID -> virtually-freed copy
	var used []string

	for _, jobID := range req.PreemptCandidates {
		target := findByJobID(all, jobID)
		if target == nil {
			continue
		}

		cp := target.Copy()
		cp.JobID = ""
		cp.State = block.StateFree
		cp.FreeCount = 0
		freed[jobID] = cp
		used = append(used, jobID)

		candidates := overlayCandidates(all, freed)
		res, err := p.bestFit(req, candidates)
		if err == nil {
			res.Preempted = append([]string(nil), used...)
			return res, nil
		}

		if p.Dynamic {
			if res, err := p.synthesize(req); err == nil {
				res.Preempted = append([]string(nil), used...)
				return res, nil
			}
		}
	}

	return nil, pkgerrors.NewNoSpaceError("no match even after preempting every candidate")
}

func findByJobID(blocks []*block.Block, jobID string) *block.Block {
	for _, b := range blocks {
		if b.JobID == jobID {
			return b
		}
	}
	return nil
}

// overlayCandidates returns all with every block whose job was
// virtually freed replaced by its freed copy.
func overlayCandidates(all []*block.Block, freed map[string]*block.Block) []*block.Block {
	if len(freed) == 0 {
		return all
	}
	out := make([]*block.Block, len(all))
	for i, b := range all {
		if cp, ok := freed[b.JobID]; ok && b.JobID != "" {
			out[i] = cp
			continue
		}
		out[i] = b
	}
	return out
}
