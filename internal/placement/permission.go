// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package placement

import "github.com/jontk/torus-allocator/internal/block"

// GroupChecker decides whether a user may boot a given image.
//
// Grounded on pkg/auth's Provider interface: the teacher authenticates
// an outbound HTTP request against one of several pluggable schemes
// (token, basic, none); here the same pluggable-strategy shape
// authorizes a user/group set against one of several image permission
// schemes instead of an HTTP request.
type GroupChecker interface {
	// Allowed reports whether any of groups may boot image for user.
	Allowed(user string, groups []string, image string) bool
}

// AllowAllChecker permits every image to every user, mirroring
// pkg/auth's NoAuth for sites that do not restrict image boot
// permissions.
type AllowAllChecker struct{}

// NewAllowAllChecker creates a checker that imposes no restriction.
func NewAllowAllChecker() *AllowAllChecker { return &AllowAllChecker{} }

// Allowed always returns true.
func (AllowAllChecker) Allowed(user string, groups []string, image string) bool {
	return true
}

// StaticGroupChecker restricts each named image to a fixed allowed
// group set; an image absent from the map is unrestricted.
type StaticGroupChecker struct {
	allowedGroups map[string][]string
}

// NewStaticGroupChecker builds a checker from an image-name to
// allowed-group-list map.
func NewStaticGroupChecker(allowedGroups map[string][]string) *StaticGroupChecker {
	return &StaticGroupChecker{allowedGroups: allowedGroups}
}

// Allowed reports whether groups intersects the image's configured
// allowed-group list, or true if the image carries no restriction.
func (c *StaticGroupChecker) Allowed(user string, groups []string, image string) bool {
	restricted, ok := c.allowedGroups[image]
	if !ok || len(restricted) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(restricted))
	for _, g := range restricted {
		allowed[g] = true
	}
	for _, g := range groups {
		if allowed[g] {
			return true
		}
	}
	return false
}

// requestedImages lists the non-empty image names a job names,
// matching spec.md §4.6 step 1's "blrts, linux, ramdisk, mloader".
func requestedImages(images block.BlockImages) []string {
	var out []string
	for _, name := range []string{images.CnloadImage, images.IoloadImage, images.MloaderImage, images.RamdiskImage} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}
