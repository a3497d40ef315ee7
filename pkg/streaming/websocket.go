// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// BlockEvent is a single block state-change notification, whatever its
// origin (poll diff or bridge push). This is the payload pushed to
// WebSocket/SSE subscribers.
type BlockEvent struct {
	Type      string      `json:"type"`
	BlockID   string      `json:"block_id"`
	State     string      `json:"state,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BlockWatcher starts a stream of block events. cmd/bablockd's coreWatcher
// implements it over a bridge subscription to back a
// WebSocketServer/SSEServer.
type BlockWatcher interface {
	Watch(ctx context.Context) (<-chan BlockEvent, error)
}

// WebSocketServer exposes a BlockWatcher's event stream over WebSocket.
// This wraps the same polling/event-listener machinery used internally by
// the allocator so operator tooling can watch block transitions live.
type WebSocketServer struct {
	watcher  BlockWatcher
	upgrader websocket.Upgrader
}

// NewWebSocketServer creates a new WebSocket server over watcher.
func NewWebSocketServer(watcher BlockWatcher) *WebSocketServer {
	return &WebSocketServer{
		watcher: watcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// StreamMessage represents a message sent over WebSocket.
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error,omitempty"`
}

// HandleWebSocket handles WebSocket connections, streaming block events
// until the client disconnects or the context is cancelled.
func (ws *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("WebSocket close error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go ws.watchForClose(ctx, conn, cancel)
	ws.streamBlocks(ctx, conn)
}

// watchForClose notices a client-initiated close so the stream goroutine
// below can stop promptly rather than waiting on the next tick.
func (ws *WebSocketServer) watchForClose(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (ws *WebSocketServer) streamBlocks(ctx context.Context, conn *websocket.Conn) {
	events, err := ws.watcher.Watch(ctx)
	if err != nil {
		ws.sendError(conn, "failed to start block stream: "+err.Error())
		return
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket ping error: %v", err)
				return
			}
		case event, ok := <-events:
			if !ok {
				ws.sendMessage(conn, StreamMessage{Type: "stream_closed", Timestamp: time.Now()})
				return
			}
			ws.sendMessage(conn, StreamMessage{Type: "event", Data: event, Timestamp: time.Now()})
		}
	}
}

func (ws *WebSocketServer) sendMessage(conn *websocket.Conn, msg StreamMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("WebSocket write error: %v", err)
	}
}

func (ws *WebSocketServer) sendError(conn *websocket.Conn, message string) {
	ws.sendMessage(conn, StreamMessage{Type: "error", Error: message, Timestamp: time.Now()})
}
