// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"sort"
	"sync"
	"time"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/grid"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
)

// startEpsilon is the safety margin spec.md §4.6 step 5 adds past a
// blocking job's end time before offering the freed block to the next
// job, covering the free-drain/reboot window C7 needs before the block
// is actually usable again.
const startEpsilon = 30 * time.Second

// JobEndTimeLookup resolves a running job's estimated end time, used to
// compute a blocked candidate's availability time. ok is false if the
// job is unknown (treated as already finished).
type JobEndTimeLookup func(jobID string) (end time.Time, ok bool)

// Policy holds the placement call's dependencies: the block lists to
// search, the grid and geometry table to synthesize new blocks from,
// and the pluggable image-permission and metrics strategies.
//
// Grounded on bg_job_place.c's static globals (bg_lists, ba_main_grid,
// create_dynamic_mutex) promoted to named fields of an injectable
// struct instead of file-scope state.
type Policy struct {
	Blocks *block.List
	Grid   *grid.Grid
	Table  geometry.Table

	Checker     GroupChecker
	MaxBlockErr uint16
	Dynamic     bool

	EndTimeOf JobEndTimeLookup

	Metrics recorder
	Log     logging.Logger

	// createDynamicMu serializes dynamic-synthesis attempts across
	// concurrent placement calls, matching spec.md §5's lock order
	// (job-read lock → block-state lock → create-dynamic lock).
	createDynamicMu sync.Mutex
}

// NewPolicy builds a Policy with the given dependencies and sane
// defaults for the optional ones.
func NewPolicy(blocks *block.List, g *grid.Grid, table geometry.Table) *Policy {
	return &Policy{
		Blocks:  blocks,
		Grid:    g,
		Table:   table,
		Checker: NewAllowAllChecker(),
		Metrics: newRecorder(nil),
		Log:     logging.NewLogger(nil),
	}
}

// WithMetrics attaches a metrics.Collector, mirroring the teacher's
// WithMetrics client option.
func (p *Policy) WithMetrics(c metrics.Collector) *Policy {
	p.Metrics = newRecorder(c)
	return p
}

// Place runs spec.md §4.6's algorithm: image permission, best-fit
// matching, dynamic synthesis, preemption, and start-time computation,
// in that order, returning the first stage that succeeds.
func (p *Policy) Place(req PlaceRequest) (*Result, error) {
	started := time.Now()

	if err := p.checkImagePermission(req.Job); err != nil {
		p.Metrics.failed(req.Mode, "permission", statusPermission, err)
		return nil, err
	}

	if res, err := p.bestFit(req, p.Blocks.All()); err == nil {
		p.Metrics.matched(req.Mode, res.Block.ID, started, false)
		return res, nil
	}

	if p.Dynamic {
		if res, err := p.synthesize(req); err == nil {
			p.Metrics.matched(req.Mode, res.Block.ID, started, true)
			return res, nil
		}
	}

	if req.Flags.Has(FlagPreempt) && len(req.PreemptCandidates) > 0 {
		if res, err := p.preempt(req); err == nil {
			p.Metrics.matched(req.Mode, res.Block.ID, started, res.Synthesized)
			return res, nil
		}
	}

	err := pkgerrors.NewNoSpaceError("no block satisfies the request")
	p.Metrics.failed(req.Mode, "no_space", statusNoSpace, err)
	return nil, err
}

func (p *Policy) checkImagePermission(job Job) error {
	for _, image := range requestedImages(job.Images) {
		if !p.Checker.Allowed(job.User, job.Groups, image) {
			return pkgerrors.NewPermissionError(job.User, image)
		}
	}
	return nil
}

// bestFit implements spec.md §4.6 step 2: iterate candidates sorted by
// availability time then size ascending, applying every skip rule, and
// take the first that passes.
func (p *Policy) bestFit(req PlaceRequest, candidates []*block.Block) (*Result, error) {
	ordered := p.sortByAvailability(candidates)

	for _, b := range ordered {
		p.Metrics.attempt(req.Mode, b.ID)

		if reason, skip := p.skipReason(req, b); skip {
			p.Metrics.skip(req.Mode, b.ID, reason)
			continue
		}

		var subBlockStart []int
		if req.Job.SubBlockCNode > 0 {
			res, err := p.trySubBlock(b, req.Job.SubBlockCNode)
			if err != nil {
				p.Metrics.skip(req.Mode, b.ID, "no_subblock_fit")
				continue
			}
			subBlockStart = res.Start
		}

		startTime := p.computeStartTime(req.Job, b, ordered)
		return &Result{Block: b, StartTime: startTime, SubBlock: subBlockStart}, nil
	}

	return nil, pkgerrors.NewNoSpaceError("no existing block matches")
}

// skipReason evaluates spec.md §4.6 step 2's skip rules against a
// single candidate block, returning the first rule that excludes it.
func (p *Policy) skipReason(req PlaceRequest, b *block.Block) (string, bool) {
	job := req.Job

	if b.State == block.StateTerm {
		return "destroying", true
	}
	if b.FreeCount > 0 {
		return "freeing", true
	}
	if b.State&block.ErrorFlag != 0 && !req.Flags.Has(FlagIgnErr) {
		return "error", true
	}
	if b.JobID != "" && b.JobID != job.ID && job.SubBlockCNode == 0 {
		return "busy", true
	}
	if b.ErrRatio >= p.MaxBlockErr && p.MaxBlockErr > 0 {
		return "err_ratio", true
	}

	if job.SubBlockCNode == 0 {
		if job.MinCPUs > 0 && b.CPUCount < job.MinCPUs {
			return "too_small", true
		}
		if job.MaxCPUs > 0 && b.CPUCount > job.MaxCPUs {
			return "too_large", true
		}
	} else if !b.IsSmall() && len(b.MPs) != 1 {
		return "not_subblock_capable", true
	}

	if len(req.Allocatable) > 0 && !subsetOf(b.MPs, req.Allocatable) {
		return "not_allocatable", true
	}
	if len(job.RequiredMPs) > 0 && !subsetOf(job.RequiredMPs, b.MPs) {
		return "required_nodes", true
	}

	if !connTypeCompatible(job.ConnType, b.ConnType) {
		return "conn_type", true
	}
	if !geometryCompatible(job.Geometry, b.Geometry, job.Rotate) {
		return "geometry", true
	}

	return "", false
}

func (p *Policy) trySubBlock(b *block.Block, cnodeCount int) (*allocator.SubBlockResult, error) {
	layout := allocator.DefaultLayout()
	shape := []int{2, 2, 2, layout.CNodesPerCard / 8}
	bitmap := allocator.NewCNodeBitmap(shape)
	return allocator.SubBlockInBitmap(bitmap, cnodeCount, p.Table)
}

// computeStartTime implements spec.md §4.6 step 5: if the chosen block,
// or any other block overlapping it, is currently occupied by a job,
// the new job starts at the latest such job's end time plus a safety
// margin, clamped to the requester's own earliest-begin-time.
func (p *Policy) computeStartTime(job Job, b *block.Block, candidates []*block.Block) time.Time {
	if p.EndTimeOf == nil {
		return job.EarliestBegin
	}

	var latest time.Time
	found := false
	consider := func(jobID string) {
		if jobID == "" {
			return
		}
		if end, ok := p.EndTimeOf(jobID); ok && (!found || end.After(latest)) {
			latest, found = end, true
		}
	}

	consider(b.JobID)
	for _, other := range candidates {
		if other == b || other.JobID == "" {
			continue
		}
		if b.Overlaps(other) {
			consider(other.JobID)
		}
	}

	if !found {
		return job.EarliestBegin
	}
	start := latest.Add(startEpsilon)
	if start.Before(job.EarliestBegin) {
		return job.EarliestBegin
	}
	return start
}

// sortByAvailability orders candidates by availability time ascending
// (blocks with no occupying job are always most available), then by
// CPU count ascending.
func (p *Policy) sortByAvailability(candidates []*block.Block) []*block.Block {
	out := append([]*block.Block(nil), candidates...)
	availAt := func(b *block.Block) time.Time {
		if b.JobID == "" || p.EndTimeOf == nil {
			return time.Time{}
		}
		if end, ok := p.EndTimeOf(b.JobID); ok {
			return end
		}
		return time.Time{}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := availAt(out[i]), availAt(out[j])
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return out[i].CPUCount < out[j].CPUCount
	})
	return out
}

func subsetOf(subset, superset []geometry.Coord) bool {
	set := make(map[string]bool, len(superset))
	for _, c := range superset {
		set[c.String()] = true
	}
	for _, c := range subset {
		if !set[c.String()] {
			return false
		}
	}
	return true
}

func connTypeCompatible(requested, actual []block.ConnType) bool {
	if len(requested) == 0 {
		return true
	}
	if len(requested) != len(actual) {
		return false
	}
	for i, r := range requested {
		if r == block.ConnNav {
			continue
		}
		if r != actual[i] {
			return false
		}
	}
	return true
}

func geometryCompatible(requested, actual []int, rotate bool) bool {
	if len(requested) == 0 {
		return true
	}
	if sameGeometry(requested, actual) {
		return true
	}
	if !rotate {
		return false
	}
	for _, rot := range geometry.UniqueRotations(requested) {
		if sameGeometry(rot, actual) {
			return true
		}
	}
	return false
}

func sameGeometry(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
