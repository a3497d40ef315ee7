// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package block

import "sync"

// List is an ordered, mutex-guarded collection of blocks, kept sorted
// ascending by CNodeCount so the allocator and placement policy can scan
// smallest-first without a separate sort pass.
//
// Grounded on bg_lists_t's three named lists (main/booted/job_running)
// in bg_structs.h, each a plain doubly-linked List guarded by the
// caller's block_state_mutex; here each List carries its own mutex so
// a caller cannot forget to take the shared lock before touching one.
type List struct {
	mu      sync.RWMutex
	entries []*Block
}

// NewList returns an empty List.
func NewList() *List {
	return &List{}
}

// Insert adds b to the list, keeping entries sorted ascending by
// CNodeCount (ties broken by insertion order, i.e. stable).
func (l *List) Insert(b *Block) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := 0
	for i < len(l.entries) && l.entries[i].CNodeCount <= b.CNodeCount {
		i++
	}
	l.entries = append(l.entries, nil)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = b
}

// FindByID returns the block with the given ID, or nil if none matches.
func (l *List) FindByID(id string) *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, b := range l.entries {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Remove deletes b from the list by pointer identity, matching the
// original's list_remove-by-pointer semantics (as opposed to removing
// whichever entry happens to have the same ID, which would be wrong if
// the caller is holding a stale copy).
func (l *List) Remove(b *Block) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.entries {
		if entry == b {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// All returns a snapshot slice of every block currently in the list.
// The slice is a copy of the backing array; blocks themselves are not
// copied.
func (l *List) All() []*Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Block, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of blocks currently in the list.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// FindOverlap returns the first block in the list that overlaps req (by
// midplane, with the small-block I/O-node tie-break Block.Overlaps
// implements), or nil if none does.
func (l *List) FindOverlap(req *Block) *Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, b := range l.entries {
		if b.Overlaps(req) {
			return b
		}
	}
	return nil
}

// Copy returns a new List holding a Block.Copy() of every entry in l,
// each copy's Original pointing back at the real record. Grounded on
// the original's copy_list(in), used so a search algorithm can try
// tentative changes against a scratch list without touching the list
// other goroutines are concurrently reading.
func (l *List) Copy() *List {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := NewList()
	out.entries = make([]*Block, len(l.entries))
	for i, b := range l.entries {
		out.entries[i] = b.Copy()
	}
	return out
}
