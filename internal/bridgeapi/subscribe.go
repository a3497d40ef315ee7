// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package bridgeapi

import (
	"context"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

type wireStateChange struct {
	BlockID string      `json:"block_id"`
	State   block.State `json:"state"`
	Reason  string      `json:"reason,omitempty"`
}

// Subscribe dials the bridge control plane's event stream and delivers
// every state-change event to listener until ctx is cancelled or the
// returned unsubscribe func is called. This is the client side of the
// event-listener thread spec.md §5 describes; core.Core's poll thread
// (startPollThread) is the fallback spec.md names for when this
// connection drops.
func (c *Client) Subscribe(ctx context.Context, listener bridge.Listener) (func(), error) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/v1/blocks/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, pkgerrors.NewWithCause(pkgerrors.ErrorCodeConnectionError, "dial bridge event stream", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var closeOnce sync.Once
	unsubscribe := func() {
		closeOnce.Do(func() {
			cancel()
			conn.Close()
		})
	}

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			default:
			}

			var wsc wireStateChange
			if err := conn.ReadJSON(&wsc); err != nil {
				c.log.Warn("bridge event stream closed", "error", err)
				return
			}
			listener(bridge.StateChange{BlockID: wsc.BlockID, State: wsc.State, Reason: wsc.Reason})
		}
	}()

	return unsubscribe, nil
}
