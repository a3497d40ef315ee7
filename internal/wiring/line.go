// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package wiring implements the feasibility/conflict-checking engine
// that reserves switch ports for a block's torus/mesh connections and
// detects passthrough conflicts with other blocks.
package wiring

import "sort"

// arc describes a contiguous (possibly wrapping) run of coordinate
// values along one dimension: Values in walking order, and Gap the
// values strictly between End and Start that the run does not cover
// (its complement arc, used for passthrough detection).
type arc struct {
	Values []int
	Gap     []int
	Full    bool
}

// findArc determines whether values forms a single contiguous arc
// around a ring of size dimSize, returning the arc in forward-walking
// order plus the complementary gap. It returns ok=false if values is
// split across more than one gap, which this engine does not support
// (a block's midplane set is always expected to be a rectangular box,
// so any single dimension's coordinate set is always a single arc).
func findArc(values []int, dimSize int) (a arc, ok bool) {
	if len(values) == 0 {
		return arc{}, false
	}
	uniq := dedupSorted(values)
	if len(uniq) == dimSize {
		return arc{Values: uniq, Full: true}, true
	}

	n := len(uniq)
	maxGap := -1
	maxIdx := 0
	for i := 0; i < n; i++ {
		next := uniq[(i+1)%n]
		cur := uniq[i]
		diff := next - cur
		if diff <= 0 {
			diff += dimSize
		}
		if diff > maxGap {
			maxGap = diff
			maxIdx = i
		}
	}

	// every other step must be exactly 1 for this to be a single arc
	for i := 0; i < n; i++ {
		if i == maxIdx {
			continue
		}
		next := uniq[(i+1)%n]
		cur := uniq[i]
		diff := next - cur
		if diff <= 0 {
			diff += dimSize
		}
		if diff != 1 {
			return arc{}, false
		}
	}

	ordered := make([]int, 0, n)
	start := (maxIdx + 1) % n
	for i := 0; i < n; i++ {
		ordered = append(ordered, uniq[(start+i)%n])
	}

	var gap []int
	for v := uniq[maxIdx] + 1; v != ordered[0]; v = (v + 1) % dimSize {
		gap = append(gap, v%dimSize)
	}

	return arc{Values: ordered, Gap: gap}, true
}

func dedupSorted(values []int) []int {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
