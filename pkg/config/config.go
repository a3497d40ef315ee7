// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the block allocator's configuration
// (spec §6 "Configuration"): layout mode, machine geometry, image
// permission lists, and small-block split counts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LayoutMode selects how aggressively the allocator may create new blocks.
type LayoutMode string

const (
	// LayoutStatic means blocks come only from the static config; no
	// overlaps, blocks never change shape.
	LayoutStatic LayoutMode = "STATIC"

	// LayoutOverlap permits overlapping blocks, defined only in config.
	LayoutOverlap LayoutMode = "OVERLAP"

	// LayoutDynamic lets the allocator synthesize new blocks on demand.
	LayoutDynamic LayoutMode = "DYNAMIC"
)

// ConnType is the per-dimension connection mode of a block.
type ConnType string

const (
	ConnTorus ConnType = "TORUS"
	ConnMesh  ConnType = "MESH"
	ConnSmall ConnType = "SMALL"
	ConnNav   ConnType = "NAV"
)

// DenyPassthrough names the dimensions (by zero-based index) in which a
// passthrough is forbidden, or marks every dimension forbidden via All.
type DenyPassthrough struct {
	All  bool
	Dims map[int]bool
}

// Denies reports whether dimension d forbids passthroughs.
func (d DenyPassthrough) Denies(dim int) bool {
	if d.All {
		return true
	}
	return d.Dims[dim]
}

// ParseDenyPassthrough parses the CLI/config form: "ALL", or a string of
// dimension letters ("A","B","C","D", case-insensitive, A=0..D=3), or a
// comma-separated list of either.
func ParseDenyPassthrough(spec string) (DenyPassthrough, error) {
	out := DenyPassthrough{Dims: make(map[int]bool)}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return out, nil
	}
	if strings.EqualFold(spec, "ALL") {
		out.All = true
		return out, nil
	}
	fields := strings.FieldsFunc(spec, func(r rune) bool { return r == ',' || r == ' ' })
	for _, f := range fields {
		for _, r := range strings.ToUpper(f) {
			if r < 'A' || r > 'D' {
				return DenyPassthrough{}, fmt.Errorf("invalid dimension letter %q in DenyPassthrough", r)
			}
			out.Dims[int(r-'A')] = true
		}
	}
	return out, nil
}

// ImagePermission names a single image (by its variant-specific name) and
// the user groups permitted to request it. An empty Groups list means the
// image is unrestricted.
type ImagePermission struct {
	Name   string
	Groups []string
}

// Allowed reports whether a user belonging to userGroups may request this
// image.
func (p ImagePermission) Allowed(userGroups []string) bool {
	if len(p.Groups) == 0 {
		return true
	}
	for _, g := range userGroups {
		for _, allowed := range p.Groups {
			if g == allowed {
				return true
			}
		}
	}
	return false
}

// ImageClass is one of the four image kinds a block boot may need.
type ImageClass string

const (
	ImageBLRTS   ImageClass = "blrts"
	ImageLinux   ImageClass = "linux"
	ImageRamdisk ImageClass = "ramdisk"
	ImageMLoader ImageClass = "mloader"
)

// SmallBlockSplit is the requested combination of sub-midplane block sizes
// (cnode counts per sub-block) for a single midplane, e.g. {32: 16} means
// sixteen 32-node blocks.
type SmallBlockSplit map[int]int

// Config holds every tunable named in spec §6.
type Config struct {
	// Dimensions is 3 or 4.
	Dimensions int

	// DimSize is the machine size in each dimension, length Dimensions.
	DimSize []int

	// Wrap indicates, per dimension, whether the grid wraps (torus-capable)
	// or is open-ended (mesh-only) at the positive boundary.
	Wrap []bool

	LayoutMode LayoutMode

	MidplaneNodeCnt int
	NodeCardNodeCnt int
	IONodesPerMP    int

	DenyPassthrough DenyPassthrough

	BridgeAPILogFile string
	BridgeAPIVerbose bool

	// Images maps each image class to its default name plus any named
	// alternates, each with its own permitted-group list.
	Images map[ImageClass][]ImagePermission

	// MaxBlockInError is the error-ratio percent (0-100) at which a block's
	// jobs are requeued and the block is marked ERROR.
	MaxBlockInError int

	AllowSubBlockAllocations bool
	SubMidplaneSystem        bool

	DefaultConnType []ConnType

	// SmallBlockCounts maps sub-block size (16/32/64/128/256) to how many
	// of that size a midplane-splitting request should carve by default.
	SmallBlockCounts SmallBlockSplit

	SlurmNodePrefix string
	SlurmUserName   string
}

// NewDefault returns a configuration matching a typical 4-D, 512-node-per
// midplane, dynamic-layout deployment.
func NewDefault() *Config {
	return &Config{
		Dimensions:               4,
		DimSize:                  []int{4, 4, 4, 4},
		Wrap:                     []bool{true, true, true, true},
		LayoutMode:               LayoutDynamic,
		MidplaneNodeCnt:          512,
		NodeCardNodeCnt:          32,
		IONodesPerMP:             16,
		DenyPassthrough:          DenyPassthrough{Dims: map[int]bool{}},
		BridgeAPILogFile:         getEnvOrDefault("BA_BRIDGE_LOG_FILE", ""),
		BridgeAPIVerbose:         getEnvBoolOrDefault("BA_BRIDGE_VERBOSE", false),
		Images:                   map[ImageClass][]ImagePermission{},
		MaxBlockInError:          50,
		AllowSubBlockAllocations: true,
		SubMidplaneSystem:        true,
		DefaultConnType:          []ConnType{ConnTorus, ConnTorus, ConnTorus, ConnMesh},
		SmallBlockCounts:         SmallBlockSplit{},
		SlurmNodePrefix:          getEnvOrDefault("BA_NODE_PREFIX", "rmp"),
		SlurmUserName:            getEnvOrDefault("BA_USER_NAME", "slurm"),
	}
}

// Load applies environment-variable overrides on top of the receiver.
func (c *Config) Load() {
	if v := os.Getenv("BA_LAYOUT_MODE"); v != "" {
		c.LayoutMode = LayoutMode(strings.ToUpper(v))
	}
	if v := os.Getenv("BA_MAX_BLOCK_ERR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.MaxBlockInError = i
		}
	}
	if v := os.Getenv("BA_DENY_PASSTHROUGH"); v != "" {
		if d, err := ParseDenyPassthrough(v); err == nil {
			c.DenyPassthrough = d
		}
	}
	c.BridgeAPIVerbose = getEnvBoolOrDefault("BA_BRIDGE_VERBOSE", c.BridgeAPIVerbose)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Dimensions != 3 && c.Dimensions != 4 {
		return ErrInvalidDimensions
	}
	if len(c.DimSize) != c.Dimensions {
		return ErrDimSizeMismatch
	}
	for _, s := range c.DimSize {
		if s <= 0 {
			return ErrInvalidDimSize
		}
	}
	if len(c.Wrap) != c.Dimensions {
		return ErrDimSizeMismatch
	}
	if c.MidplaneNodeCnt <= 0 {
		return ErrInvalidMidplaneNodeCnt
	}
	if c.IONodesPerMP <= 0 {
		return ErrInvalidIONodesPerMP
	}
	if c.MaxBlockInError < 0 || c.MaxBlockInError > 100 {
		return ErrInvalidMaxBlockErr
	}
	switch c.LayoutMode {
	case LayoutStatic, LayoutOverlap, LayoutDynamic:
	default:
		return ErrInvalidLayoutMode
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
