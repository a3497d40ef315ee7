// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package core wires together the grid, the allocator, the placement
// policy, the block-lifecycle coordinator, the fault tracker, and a
// bridge.Interface into a single value and exposes spec.md §6's plugin
// surface as methods on it, replacing the source's file-scope globals
// (the config block, the three block lists) with an explicit value
// passed to every operation, per spec.md §9's "Global singletons" design
// note. Grounded on the teacher's root package (NewClient wiring
// internal/factory into a single SlurmClient) generalized from an
// options-constructed REST client to an options-constructed resource
// manager plugin instance.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	"github.com/jontk/torus-allocator/internal/fault"
	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/jontk/torus-allocator/internal/grid"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/internal/placement"
	"github.com/jontk/torus-allocator/internal/state"
	"github.com/jontk/torus-allocator/pkg/config"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
	"github.com/jontk/torus-allocator/pkg/performance"
	"github.com/jontk/torus-allocator/pkg/retry"
	pkgwatch "github.com/jontk/torus-allocator/pkg/watch"
)

// pollThreadInterval is how often the poll-thread fallback re-queries the
// bridge for every known block's state, independent of the event listener.
const pollThreadInterval = 15 * time.Second

// Core is the process-wide value spec.md §9 names in place of the
// source's globals: the configuration, the grid, the three block lists,
// and every named lock in the order spec.md §5 fixes
// (job_read_lock → block_state_mutex → create_dynamic_mutex →
// bridge_api_mutex). block_state_mutex lives inside Coordinator,
// create_dynamic_mutex inside Placement; JobReadLock and BridgeAPIMu are
// the two this type itself owns, so a caller never needs to reach past
// Core for any of the four.
type Core struct {
	Config *config.Config

	Grid  *grid.Grid
	Table geometry.Table

	Main       *block.List
	Booted     *block.List
	JobRunning *block.List

	Bridge      bridge.Interface
	Placement   *placement.Policy
	Coordinator *state.Coordinator
	Faults      *fault.Tracker

	Log     logging.Logger
	Metrics metrics.Collector

	// JobReadLock stands in for spec.md §5's job_read_lock, an
	// externally-owned lock the controller holds while scheduler
	// threads call into placement. It is exposed for a caller embedding
	// Core inside its own controller loop. StateSave, JobTest, JobBegin
	// and JobFini take it for read; StateRestore, JobInit, NodeInit,
	// BlockInit and RemoveBlock take it for write; JobReady,
	// StepPickNodes, StepFinish, ReservationTest, UpdateBlock and
	// FailCnode do not take it.
	JobReadLock sync.RWMutex

	// BridgeAPIMu serializes direct bridge calls made outside an agent
	// thread's own retry loop (state.Coordinator.Free and
	// bridgeapi.Client already serialize their own calls internally;
	// this guards the remaining callers, e.g. UpdateBlock's Modify).
	BridgeAPIMu sync.Mutex

	// rtMu is the rt_mutex spec.md §5 names: the event-listener thread
	// (onBridgeEvent) and the poll-thread fallback (startPollThread)
	// both hold it while applying a bridge-reported state to a block,
	// so the two threads never race to write the same field.
	rtMu sync.Mutex

	cache *performance.ResponseCache

	mu     sync.Mutex
	inited bool
}

// settings collects what Option functions configure, applied before New
// wires the bridge and the dependent policy/coordinator/tracker values
// together: several of them (the cache, the logger) need to be in place
// before that wiring happens rather than patched in afterward.
type settings struct {
	log     logging.Logger
	metrics metrics.Collector
	checker placement.GroupChecker
	cache   *performance.ResponseCache
}

// Option configures a Core at construction time, mirroring the
// teacher's ClientOption pattern.
type Option func(*settings)

// WithLogger overrides the default no-op logger.
func WithLogger(log logging.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithMetrics overrides the default no-op metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *settings) { s.metrics = m }
}

// WithGroupChecker overrides the image-permission checker Placement
// uses, in place of the one New derives from cfg.Images.
func WithGroupChecker(checker placement.GroupChecker) Option {
	return func(s *settings) { s.checker = checker }
}

// WithCache attaches a pkg/performance response cache in front of the
// bridge's GetBlocks/GetBlockState queries (SPEC_FULL.md §4.11's
// short-TTL cache, adapted from the teacher's HTTP response cache).
func WithCache(cache *performance.ResponseCache) Option {
	return func(s *settings) { s.cache = cache }
}

// New builds a Core over the given configuration and bridge
// implementation: it allocates the grid (C2), builds the geometry
// table (C1), constructs the three block lists (C3), and wires the
// placement policy (C6), the free coordinator (C7), and the fault
// tracker (C8) against them.
func New(cfg *config.Config, br bridge.Interface, opts ...Option) (*Core, error) {
	s := &settings{
		log:     logging.NewLogger(nil),
		metrics: metrics.NoOpCollector{},
		checker: groupCheckerFromConfig(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cache != nil {
		br = newCachingBridge(br, s.cache)
	}

	sys, err := geometry.NewSystem(cfg.DimSize)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	g, err := grid.Init(sys, s.log)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	main := block.NewList()
	booted := block.NewList()
	jobRunning := block.NewList()

	policy := placement.NewPolicy(main, g, geometry.BuildTable(sys))
	policy.Checker = s.checker
	policy.MaxBlockErr = uint16(cfg.MaxBlockInError * 100) // percent -> basis points
	policy.Dynamic = cfg.LayoutMode == config.LayoutDynamic
	policy.Log = s.log

	coordinator := &state.Coordinator{
		Main:       main,
		Booted:     booted,
		JobRunning: jobRunning,
		Bridge:     br,
		Log:        s.log,
	}
	coordinator.PollPolicy = retry.NewBlockPollBackoff()

	layout := nodecardLayoutFromConfig(cfg)
	faults := fault.NewTracker(main, layout)
	faults.MaxBlockErr = uint16(cfg.MaxBlockInError * 100)
	faults.Log = s.log

	c := &Core{
		Config:      cfg,
		Grid:        g,
		Table:       geometry.BuildTable(sys),
		Main:        main,
		Booted:      booted,
		JobRunning:  jobRunning,
		Bridge:      br,
		Placement:   policy,
		Coordinator: coordinator,
		Faults:      faults,
		Log:         s.log,
		Metrics:     s.metrics,
		cache:       s.cache,
	}

	coordinator.WithPostFree(c.postFree)

	return c, nil
}

func groupCheckerFromConfig(cfg *config.Config) placement.GroupChecker {
	allowed := make(map[string][]string)
	for _, perms := range cfg.Images {
		for _, p := range perms {
			allowed[p.Name] = p.Groups
		}
	}
	if len(allowed) == 0 {
		return placement.NewAllowAllChecker()
	}
	return placement.NewStaticGroupChecker(allowed)
}

func nodecardLayoutFromConfig(cfg *config.Config) allocator.NodecardLayout {
	layout := allocator.DefaultLayout()
	if cfg.NodeCardNodeCnt > 0 {
		layout.CNodesPerCard = cfg.NodeCardNodeCnt
	}
	if cfg.MidplaneNodeCnt > 0 && layout.CNodesPerCard > 0 {
		layout.NodecardCount = cfg.MidplaneNodeCnt / layout.CNodesPerCard
	}
	if cfg.IONodesPerMP > 0 && layout.NodecardCount > 0 {
		layout.IONodesPerCard = cfg.IONodesPerMP / layout.NodecardCount
		if layout.IONodesPerCard == 0 {
			layout.IONodesPerCard = 1
		}
	}
	return layout
}

// Init performs one-time setup: subscribing the event-listener thread to
// the bridge and starting the poll-thread fallback (spec.md §5). It is a
// plugin-surface entry point (spec.md §6's init); a second call is a
// no-op that returns nil.
func (c *Core) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.inited {
		c.mu.Unlock()
		return nil
	}
	c.inited = true
	c.mu.Unlock()

	_, err := c.Bridge.Subscribe(ctx, c.onBridgeEvent)
	if err != nil {
		c.Log.Warn("bridge event subscription failed, falling back to poll thread only", "error", err)
	}

	c.startPollThread(ctx)
	return nil
}

// Fini releases resources Init acquired. It is spec.md §6's fini.
func (c *Core) Fini() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// onBridgeEvent is the event-listener thread spec.md §5 names: it applies
// a bridge-reported state change to the matching block. It shares
// applyBridgeState with the poll thread below so the two threads agree on
// how a state update lands on a block.
func (c *Core) onBridgeEvent(sc bridge.StateChange) {
	c.applyBridgeState(sc.BlockID, sc.State, sc.Reason)
}

func (c *Core) applyBridgeState(blockID string, st block.State, reason string) {
	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	b := c.Main.FindByID(blockID)
	if b == nil {
		c.Log.Warn("state change for unknown block", "block_id", blockID)
		return
	}
	b.State = st
	if reason != "" {
		b.Reason = reason
	}
}

// polledBlockState is one block's bridge-reported state as pkg/watch's
// Poller sees it: the diffable unit the poll thread lists on every tick.
type polledBlockState struct {
	id    string
	state block.State
}

// startPollThread starts the poll-thread fallback of spec.md §5: a
// pkg/watch.Poller that re-queries the bridge for every known block's
// state on a fixed interval and applies any change through
// applyBridgeState, the same path the event-listener thread uses. It
// runs alongside the listener rather than only when Subscribe fails,
// matching spec.md §5's "the poll thread and the listener thread share a
// single rt_mutex", which only makes sense if both can run at once; the
// poll thread is what keeps state current if the listener's connection
// drops silently between an explicit Subscribe failure and the next one.
func (c *Core) startPollThread(ctx context.Context) {
	poller := pkgwatch.NewPoller(
		func(ctx context.Context) ([]polledBlockState, error) {
			blocks := c.Main.All()
			out := make([]polledBlockState, 0, len(blocks))
			for _, b := range blocks {
				st, err := c.Bridge.GetBlockState(ctx, b.ID)
				if err != nil {
					continue
				}
				out = append(out, polledBlockState{id: b.ID, state: st})
			}
			return out, nil
		},
		func(p polledBlockState) string { return p.id },
		func(p polledBlockState) block.State { return p.state },
	).WithPollInterval(pollThreadInterval)

	events := poller.Watch(ctx)
	go func() {
		for ev := range events {
			switch ev.Kind {
			case pkgwatch.EventNew, pkgwatch.EventStateChange:
				c.applyBridgeState(ev.Key, ev.NewState, "")
			}
		}
	}()
}

// postFree is the free coordinator's post-free hook: destroy means
// remove the block from the bridge entirely (admin force-remove or a
// dynamic-layout block whose job ended); otherwise, in static/overlap
// layout, the block is left in Main for reuse.
func (c *Core) postFree(b *block.Block, destroy bool) {
	if !destroy {
		return
	}
	ctx := context.Background()
	if err := c.Bridge.Remove(ctx, b.ID); err != nil {
		c.Log.Error("post-free remove failed", "block_id", b.ID, "error", err)
		return
	}
	c.Main.Remove(b)
}

// snapshotBlocks builds the persistence.SnapshotBlock list StateSave
// writes, from the current contents of Main.
func (c *Core) snapshotBlocks() []persistence.SnapshotBlock {
	blocks := c.Main.All()
	out := make([]persistence.SnapshotBlock, 0, len(blocks))
	for _, b := range blocks {
		var jobs []persistence.SnapshotJob
		if b.JobID != "" {
			jobs = append(jobs, persistence.SnapshotJob{JobID: b.JobID})
		}
		out = append(out, persistence.ToSnapshotBlock(b, jobs, nil, c.Grid.System.DimSize))
	}
	return out
}
