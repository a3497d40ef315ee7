// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package placement matches pending jobs to existing or synthesizable
// blocks: image permission, best-fit candidate matching, dynamic
// block synthesis, preemption and start-time computation.
package placement

import (
	"time"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
)

// Mode is the placement call's intent, mirroring the controller's
// RUN_NOW/TEST_ONLY/WILL_RUN distinction.
type Mode uint8

const (
	ModeRunNow Mode = iota
	ModeTestOnly
	ModeWillRun
)

// Flags are orthogonal modifiers to a placement Mode.
type Flags uint8

const (
	FlagNone      Flags = 0
	FlagPreempt   Flags = 1 << 0
	FlagCheckFull Flags = 1 << 1
	FlagIgnErr    Flags = 1 << 2
)

func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// Job describes the pending request being placed.
//
// Grounded on spec.md §4.6's input list and the job-info fields named
// in §3 (select_jobinfo's requested geometry/rotate/conn-type/images).
type Job struct {
	ID string

	MinCPUs, MaxCPUs   uint32
	MinNodes, MaxNodes uint32

	RequiredMPs []geometry.Coord // must be a subset of the chosen block's midplanes, nil if unconstrained

	Geometry []int
	Rotate   bool
	ConnType []block.ConnType

	Images        block.BlockImages
	User          string
	Groups        []string
	SubBlockCNode int // >0 for a sub-midplane request of this many compute nodes

	EarliestBegin time.Time
}

// PlaceRequest bundles a Job with the placement-call specific
// parameters spec.md §4.6 lists separately from the job itself.
type PlaceRequest struct {
	Job Job

	Mode  Mode
	Flags Flags

	// Allocatable is the set of midplanes the controller currently
	// permits this job to land on (e.g. excludes reserved nodes). Nil
	// means every midplane is allocatable.
	Allocatable []geometry.Coord

	// ExcludeCores lists the cores the caller asks to exclude. It is
	// carried on the request only: Place does not read it, and excluded
	// cores do not reduce a candidate block's capacity.
	ExcludeCores []int

	// PreemptCandidates is the ordered list of job IDs the caller is
	// willing to have preempted, consulted only when Flags.Has(FlagPreempt).
	PreemptCandidates []string
}

// Result is a successful placement outcome.
type Result struct {
	Block       *block.Block
	StartTime   time.Time
	Synthesized bool
	Preempted   []string
	SubBlock    []int // sub-region starting corner, set only for sub-block placements
}
