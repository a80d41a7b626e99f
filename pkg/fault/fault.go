// Package fault defines the structured failure codes shared by the reduction
// pipeline. Synchronous rejections (validation and precondition failures) are
// returned to callers with one of these codes; asynchronous worker failures
// carry a code on the task record and surface through the polling API.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a pipeline failure.
type Code string

const (
	CodeValidationFailed   Code = "validation_failed"
	CodePreconditionFailed Code = "precondition_failed"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeSourceUnavailable  Code = "source_unavailable"
	CodeWorkerFailure      Code = "worker_failure"
	CodeNothingToCancel    Code = "nothing_to_cancel"
)

// Error is a failure with a machine code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the failure code carried by err, or "" if err carries none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given failure code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a failure code to its HTTP response status.
// Unrecognized codes (including "") map to 500.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidationFailed:
		return http.StatusBadRequest
	case CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeNothingToCancel:
		return http.StatusConflict
	case CodeSourceUnavailable:
		return http.StatusUnprocessableEntity
	case CodeWorkerFailure:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
