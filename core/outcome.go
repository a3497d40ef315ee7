// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"strings"

	pkgerrors "github.com/jontk/torus-allocator/pkg/errors"
)

// Outcome is the uniform result code spec.md §6 requires of every
// plugin-surface function: callers branch on Outcome rather than on the
// concrete error, so a non-retriable failure is always distinguishable
// from one the controller may simply retry.
type Outcome int

const (
	// OutcomeSuccess means the call completed as requested.
	OutcomeSuccess Outcome = iota

	// OutcomeRetry means the call failed transiently (BUSY,
	// CONNECTION_ERROR, a retriable INVALID_STATE); the controller
	// should call again later without treating this as job failure.
	OutcomeRetry

	// OutcomeFatal means the call failed in a way the controller must
	// surface as a job or request failure rather than retry (a
	// programming error, PERMISSION_DENIED, or a retry budget
	// exhausted).
	OutcomeFatal

	// OutcomeNoSpace means a placement call found no block, existing or
	// synthesizable, that satisfies the request.
	OutcomeNoSpace
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeRetry:
		return "RETRY"
	case OutcomeFatal:
		return "FATAL"
	case OutcomeNoSpace:
		return "NO_SPACE"
	default:
		return "UNKNOWN"
	}
}

// JobReadyResult is job_ready's three-way return spec.md §6 names
// explicitly (ready | retry | fatal), distinct from the general Outcome
// enum since a caller polling readiness needs exactly these three
// states and nothing else.
type JobReadyResult int

const (
	JobReady JobReadyResult = iota
	JobReadyRetry
	JobReadyFatal
)

// outcomeFromError classifies err into the uniform Outcome enum.
// NewNoSpaceError (internal/allocator, internal/placement) carries the
// NOT_FOUND code since "no space" is, mechanically, a not-found result;
// it is distinguished from a genuine not-found by its fixed message so
// a caller can tell "nothing satisfies this request" from "that object
// does not exist".
func outcomeFromError(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if pkgerrors.IsNotFound(err) && strings.Contains(err.Error(), "no space available") {
		return OutcomeNoSpace
	}
	if pkgerrors.IsRetryable(err) {
		return OutcomeRetry
	}
	return OutcomeFatal
}
