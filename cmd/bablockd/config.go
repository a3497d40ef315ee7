// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jontk/torus-allocator/internal/state"
	"github.com/jontk/torus-allocator/pkg/config"
)

// daemonConfig bundles the allocator configuration (pkg/config.Config)
// with the process-level settings spec.md leaves to deployment: where
// this daemon listens, which bridge backend to use, and where snapshots
// live. Grounded on the teacher's client.Config/daemon split: the
// allocator-domain configuration stays in pkg/config exactly as the
// ambient stack already shapes it, and everything specific to running
// this binary as a standalone process is kept local to cmd/bablockd.
type daemonConfig struct {
	Allocator *config.Config

	ListenAddr  string
	SnapshotDir string

	BridgeMode  string // "fake" or "http"
	BridgeURL   string
	BridgeToken string

	// RestartJobs is the controller-restart reattachment list job_init
	// (spec.md §6) reconciles once at startup, parsed from
	// BABLOCKD_RESTART_JOBS="jobid:blockid,jobid:blockid". Empty unless
	// set, since a fresh deployment has no jobs to reattach.
	RestartJobs []state.RunningJob
}

func daemonConfigFromEnv() (*daemonConfig, error) {
	alloc := config.NewDefault()

	if v := os.Getenv("BABLOCKD_DIM_SIZE"); v != "" {
		dims, err := parseIntList(v)
		if err != nil {
			return nil, fmt.Errorf("BABLOCKD_DIM_SIZE: %w", err)
		}
		alloc.DimSize = dims
		alloc.Dimensions = len(dims)
	}
	alloc.Load()
	if err := alloc.Validate(); err != nil {
		return nil, fmt.Errorf("allocator config: %w", err)
	}

	cfg := &daemonConfig{
		Allocator:   alloc,
		ListenAddr:  getEnv("BABLOCKD_LISTEN_ADDR", ":6271"),
		SnapshotDir: getEnv("BABLOCKD_SNAPSHOT_DIR", "/var/spool/bablockd"),
		BridgeMode:  getEnv("BABLOCKD_BRIDGE_MODE", "fake"),
		BridgeURL:   os.Getenv("BABLOCKD_BRIDGE_URL"),
		BridgeToken: os.Getenv("BABLOCKD_BRIDGE_TOKEN"),
	}

	if cfg.BridgeMode == "http" && cfg.BridgeURL == "" {
		return nil, fmt.Errorf("BABLOCKD_BRIDGE_URL is required when BABLOCKD_BRIDGE_MODE=http")
	}

	if v := os.Getenv("BABLOCKD_RESTART_JOBS"); v != "" {
		jobs, err := parseRestartJobs(v)
		if err != nil {
			return nil, fmt.Errorf("BABLOCKD_RESTART_JOBS: %w", err)
		}
		cfg.RestartJobs = jobs
	}

	return cfg, nil
}

func parseRestartJobs(s string) ([]state.RunningJob, error) {
	entries := strings.Split(s, ",")
	out := make([]state.RunningJob, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected jobid:blockid, got %q", e)
		}
		out = append(out, state.RunningJob{JobID: parts[0], BlockID: parts[1]})
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid dimension size %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
