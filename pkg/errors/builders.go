// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"fmt"
)

// NewValidationError creates an INVALID_INPUT error for a bad field value.
// Caller-side validation failures (bad geometry, negative counts, missing
// IDs) always use this constructor so that §7's "invalid-input: abort,
// don't retry" rule is enforced uniformly.
func NewValidationError(field string, value interface{}, format string, args ...interface{}) *BridgeError {
	message := fmt.Sprintf(format, args...)
	err := New(ErrorCodeInvalidInput, message)
	err.Details = fmt.Sprintf("field=%s value=%v", field, value)
	return err
}

// NewNotFoundError creates a NOT_FOUND error for a resource description.
func NewNotFoundError(resourceType, desc string) *BridgeError {
	return New(ErrorCodeNotFound, fmt.Sprintf("%s not found: %s", resourceType, desc))
}

// NewNoSpaceError creates an error for an allocator search that exhausted
// every geometry/start/rotation combination without success.
func NewNoSpaceError(reqDesc string) *BridgeError {
	err := New(ErrorCodeNotFound, "no space available for request")
	err.Details = reqDesc
	return err
}

// NewPermissionError creates a PERMISSION_DENIED error for a user/image
// combination rejected by a placement policy's image permission check.
func NewPermissionError(user, image string) *BridgeError {
	err := New(ErrorCodePermissionDenied, fmt.Sprintf("user %s is not permitted to boot image %s", user, image))
	return err
}

// IsPermissionDenied reports whether err is a PERMISSION_DENIED BridgeError.
func IsPermissionDenied(err error) bool {
	return Code(err) == ErrorCodePermissionDenied
}

// IsRetryable reports whether err (a *BridgeError or wrapping one) permits
// a retry of the operation that produced it.
func IsRetryable(err error) bool {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.IsRetryable()
	}
	return false
}

// Code extracts the ErrorCode from err, or ErrorCodeUnknown if err does not
// wrap a *BridgeError.
func Code(err error) ErrorCode {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be.Code
	}
	return ErrorCodeUnknown
}

// IsNotFound reports whether err is a NOT_FOUND BridgeError.
func IsNotFound(err error) bool {
	return Code(err) == ErrorCodeNotFound
}

// IsBusy reports whether err is a BUSY BridgeError.
func IsBusy(err error) bool {
	return Code(err) == ErrorCodeBusy
}

// IsInvalidState reports whether err is an INVALID_STATE BridgeError.
func IsInvalidState(err error) bool {
	return Code(err) == ErrorCodeInvalidState
}

// IsAlreadyDefined reports whether err is an ALREADY_DEFINED BridgeError.
func IsAlreadyDefined(err error) bool {
	return Code(err) == ErrorCodeAlreadyDefined
}
