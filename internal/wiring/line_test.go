// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wiring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindArcFull(t *testing.T) {
	a, ok := findArc([]int{0, 1, 2, 3}, 4)
	require.True(t, ok)
	assert.True(t, a.Full)
}

func TestFindArcContiguousNoWrap(t *testing.T) {
	a, ok := findArc([]int{1, 2, 3}, 8)
	require.True(t, ok)
	assert.False(t, a.Full)
	assert.Equal(t, []int{1, 2, 3}, a.Values)
	assert.Equal(t, []int{4, 5, 6, 7, 0}, a.Gap)
}

func TestFindArcWrapping(t *testing.T) {
	a, ok := findArc([]int{6, 7, 0, 1}, 8)
	require.True(t, ok)
	assert.Equal(t, []int{6, 7, 0, 1}, a.Values)
	assert.Equal(t, []int{2, 3, 4, 5}, a.Gap)
}

func TestFindArcSingleValue(t *testing.T) {
	a, ok := findArc([]int{3}, 8)
	require.True(t, ok)
	assert.Equal(t, []int{3}, a.Values)
	assert.Len(t, a.Gap, 7)
}

func TestFindArcNonContiguousFails(t *testing.T) {
	_, ok := findArc([]int{0, 2, 5}, 8)
	assert.False(t, ok)
}

func TestFindArcEmpty(t *testing.T) {
	_, ok := findArc(nil, 8)
	assert.False(t, ok)
}
