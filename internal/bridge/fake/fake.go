// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package fake provides an in-memory bridge.Interface implementation for
// tests and local development, grounded on the teacher's
// tests/mocks.MockStorage idiom: a mutex-guarded in-memory store standing
// in for the real hardware control surface, here synthesizing the
// asynchronous boot/free state transitions a real bridge would push
// through its event stream instead of serving them from a fixture file.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jontk/torus-allocator/internal/block"
	"github.com/jontk/torus-allocator/internal/bridge"
	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

type entry struct {
	desc  bridge.BlockDesc
	state block.State
	users map[string]bool
}

// Bridge is an in-memory bridge.Interface. Boot and Free transition
// through an intermediate state and settle after TransitionDelay, so
// callers exercising the event-listener or poll-thread path (core.Core)
// can see the same asynchronous shape a real bridge would produce. The
// delay is zero by default, in which case they settle before returning.
type Bridge struct {
	mu        sync.Mutex
	blocks    map[string]*entry
	listeners map[int]bridge.Listener
	nextSubID int
	nextBlkID int

	// TransitionDelay is how long Boot/Free wait before settling the
	// block into its terminal state. Zero means settle synchronously,
	// useful for deterministic tests.
	TransitionDelay time.Duration
}

// New returns an empty fake bridge.
func New() *Bridge {
	return &Bridge{
		blocks:    make(map[string]*entry),
		listeners: make(map[int]bridge.Listener),
	}
}

func (b *Bridge) Create(ctx context.Context, desc bridge.BlockDesc) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := desc.ID
	if id == "" {
		b.nextBlkID++
		id = fmt.Sprintf("RMP%d", b.nextBlkID)
		desc.ID = id
	}
	if _, exists := b.blocks[id]; exists {
		return "", pkgerrors.ForBlock(pkgerrors.New(pkgerrors.ErrorCodeAlreadyDefined, "block already exists"), id)
	}

	b.blocks[id] = &entry{desc: desc, state: block.StateFree, users: make(map[string]bool)}
	return id, nil
}

func (b *Bridge) Boot(ctx context.Context, blockID string) error {
	e, err := b.lookup(blockID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	e.state = block.StateBooting
	b.mu.Unlock()
	b.notify(blockID, block.StateBooting, "")

	b.settle(blockID, e, block.StateInited, "")
	return nil
}

func (b *Bridge) Free(ctx context.Context, blockID string) error {
	e, err := b.lookup(blockID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	e.state = block.StateTerm
	b.mu.Unlock()
	b.notify(blockID, block.StateTerm, "")

	b.settle(blockID, e, block.StateFree, "")
	return nil
}

// settle transitions e to final after TransitionDelay, off the calling
// goroutine when the delay is nonzero so Boot/Free return immediately
// the way a real bridge call does.
func (b *Bridge) settle(blockID string, e *entry, final block.State, reason string) {
	apply := func() {
		b.mu.Lock()
		e.state = final
		b.mu.Unlock()
		b.notify(blockID, final, reason)
	}
	if b.TransitionDelay <= 0 {
		apply()
		return
	}
	go func() {
		time.Sleep(b.TransitionDelay)
		apply()
	}()
}

func (b *Bridge) Remove(ctx context.Context, blockID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.blocks[blockID]
	if !ok {
		return nil // spec.md §4.10: NOT_FOUND after free/remove is success
	}
	if e.state != block.StateFree && e.state&block.ErrorFlag == 0 {
		return pkgerrors.ForBlock(pkgerrors.New(pkgerrors.ErrorCodeInvalidState, "block is not free"), blockID)
	}
	delete(b.blocks, blockID)
	return nil
}

func (b *Bridge) AddUser(ctx context.Context, blockID, user string) error {
	e, err := b.lookup(blockID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	e.users[user] = true
	b.mu.Unlock()
	return nil
}

func (b *Bridge) RemoveUser(ctx context.Context, blockID, user string) error {
	e, err := b.lookup(blockID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(e.users, user)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Modify(ctx context.Context, blockID, field, value string) error {
	e, err := b.lookup(blockID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch field {
	case "cnload_image":
		e.desc.Images.CnloadImage = value
	case "ioload_image":
		e.desc.Images.IoloadImage = value
	case "mloader_image":
		e.desc.Images.MloaderImage = value
	case "ramdisk_image":
		e.desc.Images.RamdiskImage = value
	default:
		return pkgerrors.NewValidationError(field, value, "unknown modifiable field %q", field)
	}
	return nil
}

func (b *Bridge) GetBlocks(ctx context.Context) ([]bridge.BlockDesc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]bridge.BlockDesc, 0, len(b.blocks))
	for _, e := range b.blocks {
		out = append(out, e.desc)
	}
	return out, nil
}

func (b *Bridge) GetBlockState(ctx context.Context, blockID string) (block.State, error) {
	e, err := b.lookup(blockID)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return e.state, nil
}

func (b *Bridge) Subscribe(ctx context.Context, listener bridge.Listener) (func(), error) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.listeners[id] = listener
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}, nil
}

// SetState forcibly sets a block's state and fires a notification,
// letting tests simulate a hardware-initiated transition (fault
// injection, an operator-triggered reboot) without going through
// Boot/Free.
func (b *Bridge) SetState(blockID string, state block.State, reason string) {
	b.mu.Lock()
	e, ok := b.blocks[blockID]
	if ok {
		e.state = state
	}
	b.mu.Unlock()
	if ok {
		b.notify(blockID, state, reason)
	}
}

func (b *Bridge) lookup(blockID string) (*entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.blocks[blockID]
	if !ok {
		return nil, pkgerrors.ForBlock(pkgerrors.NewNotFoundError("block", blockID), blockID)
	}
	return e, nil
}

func (b *Bridge) notify(blockID string, state block.State, reason string) {
	b.mu.Lock()
	listeners := make([]bridge.Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	change := bridge.StateChange{BlockID: blockID, State: state, Reason: reason}
	for _, l := range listeners {
		l(change)
	}
}
