// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package block

import (
	"testing"

	"github.com/jontk/torus-allocator/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertKeepsAscendingOrder(t *testing.T) {
	l := NewList()
	l.Insert(&Block{ID: "big", CNodeCount: 512})
	l.Insert(&Block{ID: "small", CNodeCount: 32})
	l.Insert(&Block{ID: "mid", CNodeCount: 128})

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, "small", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "big", all[2].ID)
}

func TestFindByID(t *testing.T) {
	l := NewList()
	l.Insert(&Block{ID: "RMP0", CNodeCount: 512})
	found := l.FindByID("RMP0")
	require.NotNil(t, found)
	assert.Equal(t, "RMP0", found.ID)
	assert.Nil(t, l.FindByID("missing"))
}

func TestRemoveByPointerIdentity(t *testing.T) {
	l := NewList()
	a := &Block{ID: "A", CNodeCount: 32}
	b := &Block{ID: "A", CNodeCount: 32} // same ID, different pointer
	l.Insert(a)
	l.Insert(b)

	require.True(t, l.Remove(a))
	all := l.All()
	require.Len(t, all, 1)
	assert.Same(t, b, all[0])
}

func TestRemoveNotFound(t *testing.T) {
	l := NewList()
	l.Insert(&Block{ID: "A"})
	assert.False(t, l.Remove(&Block{ID: "B"}))
}

func TestFindOverlap(t *testing.T) {
	l := NewList()
	l.Insert(&Block{ID: "A", MPs: []geometry.Coord{{0, 0, 0}}})
	l.Insert(&Block{ID: "B", MPs: []geometry.Coord{{1, 0, 0}}})

	req := &Block{MPs: []geometry.Coord{{1, 0, 0}, {1, 0, 1}}}
	found := l.FindOverlap(req)
	require.NotNil(t, found)
	assert.Equal(t, "B", found.ID)
}

func TestFindOverlapNone(t *testing.T) {
	l := NewList()
	l.Insert(&Block{ID: "A", MPs: []geometry.Coord{{0, 0, 0}}})
	req := &Block{MPs: []geometry.Coord{{1, 1, 1}}}
	assert.Nil(t, l.FindOverlap(req))
}

func TestListCopyIsIndependent(t *testing.T) {
	l := NewList()
	orig := &Block{ID: "A", CNodeCount: 32, MPs: []geometry.Coord{{0, 0, 0}}}
	l.Insert(orig)

	cp := l.Copy()
	cpBlock := cp.FindByID("A")
	require.NotNil(t, cpBlock)
	cpBlock.MPs[0][0] = 5

	assert.Equal(t, 0, orig.MPs[0][0])
	assert.Same(t, orig, cpBlock.Original)
}

func TestLen(t *testing.T) {
	l := NewList()
	assert.Equal(t, 0, l.Len())
	l.Insert(&Block{ID: "A"})
	assert.Equal(t, 1, l.Len())
}
