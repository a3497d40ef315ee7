// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package watch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jontk/torus-allocator/pkg/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockSnapshot struct {
	id    string
	state string
}

type mockBlockLister struct {
	mu     sync.Mutex
	blocks []blockSnapshot
	err    error
}

func (m *mockBlockLister) list(ctx context.Context) ([]blockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]blockSnapshot, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *mockBlockLister) set(blocks []blockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = blocks
}

func newTestPoller(lister *mockBlockLister) *watch.Poller[string, string, blockSnapshot] {
	return watch.NewPoller(
		lister.list,
		func(b blockSnapshot) string { return b.id },
		func(b blockSnapshot) string { return b.state },
	).WithPollInterval(5 * time.Millisecond).WithBufferSize(16)
}

func TestPollerEmitsNewEventAfterInitialBaseline(t *testing.T) {
	lister := &mockBlockLister{blocks: []blockSnapshot{{id: "RMP0000", state: "FREE"}}}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Watch(ctx)

	lister.set([]blockSnapshot{
		{id: "RMP0000", state: "FREE"},
		{id: "RMP0001", state: "FREE"},
	})

	ev := requireEvent(t, events)
	assert.Equal(t, watch.EventNew, ev.Kind)
	assert.Equal(t, "RMP0001", ev.Key)
}

func TestPollerEmitsStateChangeEvent(t *testing.T) {
	lister := &mockBlockLister{blocks: []blockSnapshot{{id: "RMP0000", state: "FREE"}}}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Watch(ctx)

	lister.set([]blockSnapshot{{id: "RMP0000", state: "BOOTING"}})

	ev := requireEvent(t, events)
	assert.Equal(t, watch.EventStateChange, ev.Kind)
	assert.Equal(t, "FREE", ev.PreviousState)
	assert.Equal(t, "BOOTING", ev.NewState)
}

func TestPollerEmitsRemovedEvent(t *testing.T) {
	lister := &mockBlockLister{blocks: []blockSnapshot{{id: "RMP0000", state: "FREE"}}}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Watch(ctx)

	lister.set(nil)

	ev := requireEvent(t, events)
	assert.Equal(t, watch.EventRemoved, ev.Kind)
	assert.Equal(t, "RMP0000", ev.Key)
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	lister := &mockBlockLister{}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	events := p.Watch(ctx)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// a trailing event may still be in flight; drain until close.
			for range events {
			}
		}
	case <-time.After(1 * time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
}

func TestPollerIgnoresListErrors(t *testing.T) {
	lister := &mockBlockLister{err: errors.New("bridge unreachable")}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Watch(ctx)

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("unexpected event on list error: %+v", ev)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPollerSnapshot(t *testing.T) {
	lister := &mockBlockLister{blocks: []blockSnapshot{{id: "RMP0000", state: "FREE"}}}
	p := newTestPoller(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = p.Watch(ctx)

	require.Eventually(t, func() bool {
		snap := p.Snapshot()
		return snap["RMP0000"] == "FREE"
	}, 500*time.Millisecond, 5*time.Millisecond)
}

func requireEvent(t *testing.T, events <-chan watch.Event[string, string]) watch.Event[string, string] {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
		return watch.Event[string, string]{}
	}
}
