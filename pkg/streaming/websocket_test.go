// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebSocketServer(t *testing.T) {
	watcher := &mockBlockWatcher{}
	server := NewWebSocketServer(watcher)

	require.NotNil(t, server)
	assert.Equal(t, watcher, server.watcher)
	assert.NotNil(t, server.upgrader)
}

func TestHandleWebSocket_Upgrade(t *testing.T) {
	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			ch := make(chan BlockEvent)
			close(ch)
			return ch, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.NotNil(t, conn)
}

func TestHandleWebSocket_BlockEvents(t *testing.T) {
	eventChan := make(chan BlockEvent, 10)

	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			go func() {
				eventChan <- BlockEvent{
					Type:      "state_change",
					BlockID:   "RMP0000",
					State:     "BOOTING",
					Timestamp: time.Now(),
				}
				time.Sleep(100 * time.Millisecond)
				close(eventChan)
			}()
			return eventChan, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	err = conn.ReadJSON(&msg)
	require.NoError(t, err)

	assert.Equal(t, "event", msg.Type)
}

func TestHandleWebSocket_StreamClosedEvent(t *testing.T) {
	eventChan := make(chan BlockEvent)

	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			close(eventChan)
			return eventChan, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	err = conn.ReadJSON(&msg)
	require.NoError(t, err)

	assert.Equal(t, "stream_closed", msg.Type)
}

func TestHandleWebSocket_WatchError(t *testing.T) {
	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			return nil, fmt.Errorf("watch failed")
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	err = conn.ReadJSON(&msg)
	require.NoError(t, err)

	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "failed to start block stream")
}

func TestStreamMessage_JSONMarshalling(t *testing.T) {
	msg := StreamMessage{
		Type:      "event",
		Data:      map[string]interface{}{"key": "value"},
		Timestamp: time.Now(),
		Error:     "",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded StreamMessage
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.Error, decoded.Error)
}

func TestBlockEvent_JSONMarshalling(t *testing.T) {
	event := BlockEvent{
		Type:      "state_change",
		BlockID:   "RMP0000",
		State:     "BOOTING",
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded BlockEvent
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, event.BlockID, decoded.BlockID)
	assert.Equal(t, event.State, decoded.State)
}

func TestHandleWebSocket_ContextCancellation(t *testing.T) {
	eventChan := make(chan BlockEvent)

	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			return eventChan, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	conn.Close()

	time.Sleep(100 * time.Millisecond)
}

func BenchmarkWebSocketUpgrade(b *testing.B) {
	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			ch := make(chan BlockEvent)
			return ch, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	b.ResetTimer()
	for range b.N {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			b.Fatal(err)
		}
		conn.Close()
	}
}

func BenchmarkStreamMessage_Marshal(b *testing.B) {
	msg := StreamMessage{
		Type:      "event",
		Data:      map[string]string{"key": "value"},
		Timestamp: time.Now(),
	}

	b.ResetTimer()
	for range b.N {
		_, err := json.Marshal(msg)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSendMessage(b *testing.B) {
	eventChan := make(chan BlockEvent, 1000)

	watcher := &mockBlockWatcher{
		watchFunc: func(ctx context.Context) (<-chan BlockEvent, error) {
			return eventChan, nil
		},
	}
	server := NewWebSocketServer(watcher)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()

	msg := StreamMessage{
		Type:      "event",
		Data:      map[string]string{"key": "value"},
		Timestamp: time.Now(),
	}

	b.ResetTimer()
	for range b.N {
		server.sendMessage(conn, msg)
	}
}
