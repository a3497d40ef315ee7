// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SSEServer exposes a BlockWatcher's event stream as Server-Sent Events,
// for operator tooling that would rather poll a long-lived HTTP response
// than speak WebSocket.
type SSEServer struct {
	watcher BlockWatcher
}

// NewSSEServer creates a new Server-Sent Events server over watcher.
func NewSSEServer(watcher BlockWatcher) *SSEServer {
	return &SSEServer{watcher: watcher}
}

// SSEEvent represents a Server-Sent Event.
type SSEEvent struct {
	ID    string      `json:"id,omitempty"`
	Event string      `json:"event,omitempty"`
	Data  interface{} `json:"data"`
	Retry int         `json:"retry,omitempty"`
}

// HandleSSE handles Server-Sent Events connections.
func (sse *SSEServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, err := sse.watcher.Watch(ctx)
	if err != nil {
		sse.writeSSEEvent(w, flusher, SSEEvent{
			Event: "error",
			Data:  map[string]string{"error": "failed to start block stream: " + err.Error()},
		})
		return
	}

	sse.writeSSEEvent(w, flusher, SSEEvent{
		Event: "connected",
		Data:  map[string]string{"stream": "blocks", "status": "connected"},
	})

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				sse.writeSSEEvent(w, flusher, SSEEvent{
					Event: "stream_closed",
					Data:  map[string]string{"stream": "blocks", "status": "closed"},
				})
				return
			}

			sse.writeSSEEvent(w, flusher, SSEEvent{
				ID:    fmt.Sprintf("block-%d", time.Now().UnixNano()),
				Event: "block_event",
				Data:  event,
			})
		}
	}
}

// writeSSEEvent writes an SSE event to the response.
func (sse *SSEServer) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event SSEEvent) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	if event.Event != "" {
		fmt.Fprintf(w, "event: %s\n", event.Event)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		fmt.Fprintf(w, "data: {\"error\": \"failed to marshal data\"}\n")
	} else {
		fmt.Fprintf(w, "data: %s\n", string(data))
	}

	if event.Retry > 0 {
		fmt.Fprintf(w, "retry: %d\n", event.Retry)
	}

	fmt.Fprint(w, "\n")
	flusher.Flush()
}
