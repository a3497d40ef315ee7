// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/jontk/torus-allocator/internal/bridge"
	"github.com/jontk/torus-allocator/internal/bridge/fake"
	"github.com/jontk/torus-allocator/internal/bridgeapi"
	"github.com/jontk/torus-allocator/pkg/auth"
	"github.com/jontk/torus-allocator/pkg/logging"
	"github.com/jontk/torus-allocator/pkg/metrics"
	"github.com/jontk/torus-allocator/pkg/middleware"
)

// buildBridge constructs the bridge.Interface this daemon drives, per
// cfg.BridgeMode. The "http" mode is the only consumer in this module of
// bridgeapi.Config.Middleware: it chains logging, metrics, and a circuit
// breaker around the bridge control plane's transport, layered outside
// the pool/auth/retry stack bridgeapi.New already builds in.
func buildBridge(cfg *daemonConfig, log logging.Logger, m metrics.Collector) (bridge.Interface, error) {
	switch cfg.BridgeMode {
	case "", "fake":
		return fake.New(), nil
	case "http":
		var authProvider auth.Provider
		if cfg.BridgeToken != "" {
			authProvider = auth.NewTokenAuth(cfg.BridgeToken)
		} else {
			authProvider = auth.NewNoAuth()
		}
		return bridgeapi.New(bridgeapi.Config{
			BaseURL: cfg.BridgeURL,
			Auth:    authProvider,
			Log:     log,
			Metrics: m,
			Middleware: middleware.Chain(
				middleware.WithLogging(log),
				middleware.WithMetrics(m),
				middleware.WithCircuitBreaker(5, 30*time.Second),
			),
		}), nil
	default:
		return nil, fmt.Errorf("unknown bridge mode %q", cfg.BridgeMode)
	}
}
