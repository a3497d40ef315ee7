// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command bablockd is the block allocator daemon: it wires a bridge
// implementation to a *core.Core and exposes spec.md §6's plugin
// surface over HTTP, plus a WebSocket feed of live block state changes.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jontk/torus-allocator/core"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
	"github.com/jontk/torus-allocator/pkg/performance"
	"github.com/jontk/torus-allocator/pkg/streaming"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bablockd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := daemonConfigFromEnv()
	if err != nil {
		return err
	}

	log := logging.NewLogger(logging.DefaultConfig())
	metricsCollector := metrics.NewInMemoryCollector()

	br, err := buildBridge(cfg, log, metricsCollector)
	if err != nil {
		return fmt.Errorf("build bridge: %w", err)
	}

	cache := performance.NewResponseCache(performance.DefaultCacheConfig())

	c, err := core.New(cfg.Allocator, br,
		core.WithLogger(log),
		core.WithMetrics(metricsCollector),
		core.WithCache(cache),
	)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Init(ctx); err != nil {
		return fmt.Errorf("init core: %w", err)
	}
	defer c.Fini()

	if err := restoreAtStartup(ctx, c, cfg.SnapshotDir, log); err != nil {
		log.Warn("state restore at startup failed, starting with an empty block list", "error", err)
	}

	if len(cfg.RestartJobs) > 0 {
		runJobInit(c, log, cfg.RestartJobs)
	}

	srv := newServer(c, log)
	watcher := newCoreWatcher(br)
	wsServer := streaming.NewWebSocketServer(watcher)

	mux := srv.routes()
	httpMux := http.NewServeMux()
	httpMux.Handle("/", mux)
	httpMux.HandleFunc("/v1/events", wsServer.HandleWebSocket)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpMux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("bablockd listening", "addr", cfg.ListenAddr, "bridge_mode", cfg.BridgeMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down, saving state", "snapshot_dir", cfg.SnapshotDir)
	if err := c.StateSave(cfg.SnapshotDir); err != nil {
		log.Error("state save on shutdown failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// restoreAtStartup loads dir's snapshot and folds in whatever the
// bridge currently reports, the same state_restore path spec.md §6
// names as a plugin-surface entry point, run once here before the HTTP
// surface opens for requests.
func restoreAtStartup(ctx context.Context, c *core.Core, dir string, log logging.Logger) error {
	if _, err := os.Stat(snapshotFilePath(dir)); os.IsNotExist(err) {
		log.Info("no snapshot found, starting with an empty block list", "snapshot_dir", dir)
		return nil
	}
	return c.StateRestore(ctx, dir, persistence.Strict)
}

func snapshotFilePath(dir string) string {
	return dir + "/block_state"
}
