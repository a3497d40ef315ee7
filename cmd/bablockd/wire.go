// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/internal/placement"
)

// wireJob is placement.Job's JSON wire form. RequiredMPs/Allocatable travel
// as coordinate strings ("0123") rather than geometry.Coord's native []int,
// the same way internal/bridgeapi.wireBlockDesc carries midplanes as
// bridge-native strings instead of the in-process Coord type.
type wireJob struct {
	ID string `json:"id"`

	MinCPUs  uint32 `json:"min_cpus,omitempty"`
	MaxCPUs  uint32 `json:"max_cpus,omitempty"`
	MinNodes uint32 `json:"min_nodes,omitempty"`
	MaxNodes uint32 `json:"max_nodes,omitempty"`

	RequiredMPs []string `json:"required_mps,omitempty"`

	Geometry []int            `json:"geometry,omitempty"`
	Rotate   bool             `json:"rotate,omitempty"`
	ConnType []block.ConnType `json:"conn_type,omitempty"`

	Images        block.BlockImages `json:"images"`
	User          string            `json:"user"`
	Groups        []string          `json:"groups,omitempty"`
	SubBlockCNode int               `json:"sub_block_cnode,omitempty"`

	EarliestBegin time.Time `json:"earliest_begin,omitempty"`
}

func (w wireJob) toJob(dims int) (placement.Job, error) {
	mps, err := parseCoords(w.RequiredMPs, dims)
	if err != nil {
		return placement.Job{}, fmt.Errorf("required_mps: %w", err)
	}
	return placement.Job{
		ID:            w.ID,
		MinCPUs:       w.MinCPUs,
		MaxCPUs:       w.MaxCPUs,
		MinNodes:      w.MinNodes,
		MaxNodes:      w.MaxNodes,
		RequiredMPs:   mps,
		Geometry:      w.Geometry,
		Rotate:        w.Rotate,
		ConnType:      w.ConnType,
		Images:        w.Images,
		User:          w.User,
		Groups:        w.Groups,
		SubBlockCNode: w.SubBlockCNode,
		EarliestBegin: w.EarliestBegin,
	}, nil
}

func parseCoords(raw []string, dims int) ([]geometry.Coord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]geometry.Coord, 0, len(raw))
	for _, s := range raw {
		c, err := geometry.ParseCoord(s, dims)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// wirePlaceRequest is placement.PlaceRequest's JSON wire form.
type wirePlaceRequest struct {
	Job wireJob `json:"job"`

	Mode  string   `json:"mode"`
	Flags []string `json:"flags,omitempty"`

	Allocatable       []string `json:"allocatable,omitempty"`
	ExcludeCores      []int    `json:"exclude_cores,omitempty"`
	PreemptCandidates []string `json:"preempt_candidates,omitempty"`
}

func parseMode(s string) (placement.Mode, error) {
	switch s {
	case "", "run_now":
		return placement.ModeRunNow, nil
	case "test_only":
		return placement.ModeTestOnly, nil
	case "will_run":
		return placement.ModeWillRun, nil
	default:
		return 0, fmt.Errorf("unknown placement mode %q", s)
	}
}

func parseFlags(raw []string) placement.Flags {
	var f placement.Flags
	for _, name := range raw {
		switch name {
		case "preempt":
			f |= placement.FlagPreempt
		case "check_full":
			f |= placement.FlagCheckFull
		case "ign_err":
			f |= placement.FlagIgnErr
		}
	}
	return f
}

func (w wirePlaceRequest) toRequest(dims int) (placement.PlaceRequest, error) {
	job, err := w.Job.toJob(dims)
	if err != nil {
		return placement.PlaceRequest{}, err
	}
	mode, err := parseMode(w.Mode)
	if err != nil {
		return placement.PlaceRequest{}, err
	}
	allocatable, err := parseCoords(w.Allocatable, dims)
	if err != nil {
		return placement.PlaceRequest{}, fmt.Errorf("allocatable: %w", err)
	}
	return placement.PlaceRequest{
		Job:               job,
		Mode:              mode,
		Flags:             parseFlags(w.Flags),
		Allocatable:       allocatable,
		ExcludeCores:      w.ExcludeCores,
		PreemptCandidates: w.PreemptCandidates,
	}, nil
}

// wireResult is placement.Result's JSON wire form, flattened with the
// Outcome a caller needs alongside it.
type wireResult struct {
	Outcome     string    `json:"outcome"`
	BlockID     string    `json:"block_id,omitempty"`
	StartTime   time.Time `json:"start_time,omitempty"`
	Synthesized bool      `json:"synthesized,omitempty"`
	Preempted   []string  `json:"preempted,omitempty"`
	SubBlock    []int     `json:"sub_block,omitempty"`
}

func toWireResult(outcome string, res *placement.Result) wireResult {
	w := wireResult{Outcome: outcome}
	if res == nil {
		return w
	}
	w.StartTime = res.StartTime
	w.Synthesized = res.Synthesized
	w.Preempted = res.Preempted
	w.SubBlock = res.SubBlock
	if res.Block != nil {
		w.BlockID = res.Block.ID
	}
	return w
}

// wireLayoutEntry is persistence.LayoutEntry's JSON wire form, taking
// midplane coordinates as strings for the same reason wireJob does.
type wireLayoutEntry struct {
	ID       string            `json:"id"`
	MPs      []string          `json:"mps"`
	ConnType []block.ConnType  `json:"conn_type,omitempty"`
	IONodes  []int             `json:"io_nodes,omitempty"`
	Images   block.BlockImages `json:"images"`
}

func (w wireLayoutEntry) toLayoutEntry(dims int) (persistence.LayoutEntry, error) {
	mps, err := parseCoords(w.MPs, dims)
	if err != nil {
		return persistence.LayoutEntry{}, fmt.Errorf("mps: %w", err)
	}
	return persistence.LayoutEntry{
		ID:       w.ID,
		MPs:      mps,
		ConnType: w.ConnType,
		IONodes:  w.IONodes,
		Images:   w.Images,
	}, nil
}

// wireBlock is block.Block's read-only JSON wire form, served from
// GET /v1/blocks.
type wireBlock struct {
	ID         string            `json:"id"`
	MPs        []string          `json:"mps"`
	ConnType   []block.ConnType  `json:"conn_type,omitempty"`
	IONodes    []int             `json:"io_nodes,omitempty"`
	CNodeCount uint32            `json:"cnode_count,omitempty"`
	State      string            `json:"state"`
	JobID      string            `json:"job_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Images     block.BlockImages `json:"images"`
}

func toWireBlock(b *block.Block) wireBlock {
	mps := make([]string, len(b.MPs))
	for i, c := range b.MPs {
		mps[i] = c.String()
	}
	return wireBlock{
		ID:         b.ID,
		MPs:        mps,
		ConnType:   b.ConnType,
		IONodes:    b.IONodes,
		CNodeCount: b.CNodeCount,
		State:      b.State.String(),
		JobID:      b.JobID,
		Reason:     b.Reason,
		Images:     b.Images,
	}
}
