// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultIsValid(t *testing.T) {
	c := NewDefault()
	require.NoError(t, c.Validate())
}

func TestValidateCatchesBadDimensions(t *testing.T) {
	c := NewDefault()
	c.Dimensions = 5
	assert.ErrorIs(t, c.Validate(), ErrInvalidDimensions)
}

func TestValidateCatchesDimSizeMismatch(t *testing.T) {
	c := NewDefault()
	c.DimSize = []int{4, 4, 4}
	c.Dimensions = 4
	assert.ErrorIs(t, c.Validate(), ErrDimSizeMismatch)
}

func TestValidateCatchesNonPositiveDimSize(t *testing.T) {
	c := NewDefault()
	c.DimSize[0] = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidDimSize)
}

func TestValidateCatchesBadMaxBlockErr(t *testing.T) {
	c := NewDefault()
	c.MaxBlockInError = 150
	assert.ErrorIs(t, c.Validate(), ErrInvalidMaxBlockErr)
}

func TestValidateCatchesBadLayoutMode(t *testing.T) {
	c := NewDefault()
	c.LayoutMode = "BOGUS"
	assert.ErrorIs(t, c.Validate(), ErrInvalidLayoutMode)
}

func TestParseDenyPassthroughAll(t *testing.T) {
	d, err := ParseDenyPassthrough("ALL")
	require.NoError(t, err)
	assert.True(t, d.All)
	assert.True(t, d.Denies(0))
	assert.True(t, d.Denies(3))
}

func TestParseDenyPassthroughDims(t *testing.T) {
	d, err := ParseDenyPassthrough("ac")
	require.NoError(t, err)
	assert.False(t, d.All)
	assert.True(t, d.Denies(0))  // A
	assert.False(t, d.Denies(1)) // B
	assert.True(t, d.Denies(2))  // C
	assert.False(t, d.Denies(3)) // D
}

func TestParseDenyPassthroughEmpty(t *testing.T) {
	d, err := ParseDenyPassthrough("")
	require.NoError(t, err)
	assert.False(t, d.Denies(0))
}

func TestParseDenyPassthroughInvalidLetter(t *testing.T) {
	_, err := ParseDenyPassthrough("Z")
	assert.Error(t, err)
}

func TestImagePermissionAllowedUnrestricted(t *testing.T) {
	p := ImagePermission{Name: "default"}
	assert.True(t, p.Allowed([]string{"anyone"}))
}

func TestImagePermissionAllowedRestricted(t *testing.T) {
	p := ImagePermission{Name: "debug", Groups: []string{"admins"}}
	assert.True(t, p.Allowed([]string{"users", "admins"}))
	assert.False(t, p.Allowed([]string{"users"}))
}
