// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the structured error taxonomy used throughout the
// block allocator: every failure surfaced by the hardware bridge is
// normalized to one of a small set of error codes (see §4.10/§7 of the
// design) so that callers can make retry and escalation decisions with a
// type switch instead of string matching.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode is one of the bridge error kinds a hardware control surface may
// report, normalized from whatever native representation the concrete
// bridge implementation uses.
type ErrorCode string

const (
	// ErrorCodeNotFound means the referenced block, midplane, switch, or job
	// is absent. During a free operation this is treated as success.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrorCodeInvalidState means the bridge rejected an operation because
	// the block is not in a state that permits it. Retryable unless the
	// block is being destroyed.
	ErrorCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrorCodeBootError means a block failed to boot; the block moves to
	// ERROR_FLAG.
	ErrorCodeBootError ErrorCode = "BOOT_ERROR"

	// ErrorCodeAlreadyDefined means the bridge already has an object with
	// this identity. Treated as success if the existing object matches the
	// request, otherwise a conflict.
	ErrorCodeAlreadyDefined ErrorCode = "ALREADY_DEFINED"

	// ErrorCodeConnectionError means the bridge is unreachable. Always
	// retryable with bounded backoff.
	ErrorCodeConnectionError ErrorCode = "CONNECTION_ERROR"

	// ErrorCodeInternalError is a fatal error inside the bridge or this
	// subsystem.
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"

	// ErrorCodeInvalidInput is a programming error made by the caller; the
	// operation must abort rather than retry.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInconsistentData means the bridge returned a transient
	// inconsistency; retried once before being surfaced.
	ErrorCodeInconsistentData ErrorCode = "INCONSISTENT_DATA"

	// ErrorCodeBusy means the bridge is busy; retried immediately with a
	// small sleep.
	ErrorCodeBusy ErrorCode = "BUSY"

	// ErrorCodePermissionDenied means a job named an image or resource its
	// submitting user's group set is not permitted to use. Never retryable.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeUnknown is used when a native error cannot be classified.
	ErrorCodeUnknown ErrorCode = "UNKNOWN"
)

// Category groups related error codes for coarse-grained handling.
type Category string

const (
	CategoryResource  Category = "RESOURCE"
	CategoryState     Category = "STATE"
	CategoryNetwork   Category = "NETWORK"
	CategoryClient    Category = "CLIENT"
	CategoryServer    Category = "SERVER"
	CategoryUnknown   Category = "UNKNOWN"
)

// BridgeError is a structured error returned by, or derived from, the
// hardware bridge (C10). Bridge-call failures cross package boundaries as
// this type; some packages also return errors of their own (pkg/config's
// sentinel errors, internal/wiring's ConflictError) or plain wrapped errors.
type BridgeError struct {
	Code      ErrorCode `json:"code"`
	Category  Category  `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	BlockID   string    `json:"block_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *BridgeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match BridgeErrors by code, ignoring message/details.
func (e *BridgeError) Is(target error) bool {
	if t, ok := target.(*BridgeError); ok {
		return e.Code == t.Code
	}
	return false
}

// IsRetryable reports whether the operation that produced this error may be
// retried as-is.
func (e *BridgeError) IsRetryable() bool {
	return e.Retryable
}

// New creates a new BridgeError with category and retryability derived from
// the code.
func New(code ErrorCode, message string) *BridgeError {
	return &BridgeError{
		Code:      code,
		Category:  categoryFor(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableFor(code),
	}
}

// NewWithCause creates a new BridgeError wrapping an underlying cause.
func NewWithCause(code ErrorCode, message string, cause error) *BridgeError {
	err := New(code, message)
	err.Cause = cause
	return err
}

// ForBlock attaches a block ID to an existing BridgeError, returning a copy.
func ForBlock(err *BridgeError, blockID string) *BridgeError {
	if err == nil {
		return nil
	}
	clone := *err
	clone.BlockID = blockID
	return &clone
}

func categoryFor(code ErrorCode) Category {
	switch code {
	case ErrorCodeNotFound, ErrorCodeAlreadyDefined:
		return CategoryResource
	case ErrorCodeInvalidState, ErrorCodeBootError:
		return CategoryState
	case ErrorCodeConnectionError:
		return CategoryNetwork
	case ErrorCodeInvalidInput, ErrorCodePermissionDenied:
		return CategoryClient
	case ErrorCodeInternalError, ErrorCodeInconsistentData, ErrorCodeBusy:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

func retryableFor(code ErrorCode) bool {
	switch code {
	case ErrorCodeConnectionError, ErrorCodeBusy, ErrorCodeInconsistentData:
		return true
	default:
		return false
	}
}
