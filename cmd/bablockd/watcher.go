// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/jontk/torus-allocator/internal/bridge"
	"github.com/jontk/torus-allocator/pkg/streaming"
)

// coreWatcher implements streaming.BlockWatcher by subscribing directly
// to a bridge.Interface's own event stream, translating each
// bridge.StateChange into a streaming.BlockEvent. It registers its own,
// independent listener (bridge.Interface.Subscribe supports any number
// of concurrent listeners, keyed internally by subscription id) rather
// than tapping core.Core's internal onBridgeEvent subscription, so a
// WebSocket client disconnecting never touches the allocator's own
// event-driven state tracking.
type coreWatcher struct {
	bridge bridge.Interface
}

func newCoreWatcher(br bridge.Interface) *coreWatcher {
	return &coreWatcher{bridge: br}
}

func (w *coreWatcher) Watch(ctx context.Context) (<-chan streaming.BlockEvent, error) {
	events := make(chan streaming.BlockEvent, 32)

	unsubscribe, err := w.bridge.Subscribe(ctx, func(change bridge.StateChange) {
		event := streaming.BlockEvent{
			Type:      "block_state_change",
			BlockID:   change.BlockID,
			State:     change.State.String(),
			Timestamp: time.Now(),
		}
		if change.Reason != "" {
			event.Data = change.Reason
		}
		select {
		case events <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		close(events)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
		close(events)
	}()

	return events, nil
}
