// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"time"

	"github.com/jontk/torus-allocator/pkg/metrics"
)

// statusMatched and friends stand in for the HTTP status codes
// pkg/metrics.Collector.RecordResponse expects, repurposed here as
// placement outcome codes so the same collector and its ratio/duration
// aggregation keep working unmodified.
const (
	statusMatched    = 200
	statusSynthesized = 201
	statusNoSpace    = 404
	statusPermission = 403
)

// recorder wraps a metrics.Collector so placement call sites can record
// attempts and skips per reason the same way the teacher's HTTP
// transport recorded requests per path, without every call site having
// to know the Collector's method names are borrowed from HTTP.
//
// Grounded on SPEC_FULL.md §4.6: "reuses pkg/metrics (adapted) to record
// placement attempts/skips per reason... now keyed by placement outcome
// instead of HTTP path."
type recorder struct {
	collector metrics.Collector
}

func newRecorder(c metrics.Collector) recorder {
	return recorder{collector: c}
}

func (r recorder) attempt(mode Mode, blockID string) time.Time {
	if r.collector == nil {
		return time.Time{}
	}
	r.collector.RecordRequest(modeLabel(mode), blockID)
	return time.Now()
}

func (r recorder) skip(mode Mode, blockID, reason string) {
	if r.collector == nil {
		return
	}
	r.collector.RecordCacheMiss(modeLabel(mode) + ":" + reason)
}

func (r recorder) matched(mode Mode, blockID string, started time.Time, synthesized bool) {
	if r.collector == nil {
		return
	}
	status := statusMatched
	if synthesized {
		status = statusSynthesized
	}
	r.collector.RecordResponse(modeLabel(mode), blockID, status, time.Since(started))
}

func (r recorder) failed(mode Mode, reason string, status int, err error) {
	if r.collector == nil {
		return
	}
	r.collector.RecordError(modeLabel(mode), reason, err)
	r.collector.RecordResponse(modeLabel(mode), reason, status, 0)
}

func modeLabel(m Mode) string {
	switch m {
	case ModeRunNow:
		return "run_now"
	case ModeTestOnly:
		return "test_only"
	case ModeWillRun:
		return "will_run"
	default:
		return "unknown"
	}
}
