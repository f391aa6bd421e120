package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound           ErrorCode = "NotFound"
	CodeValidation         ErrorCode = "ValidationError"
	CodeInvalidTransition  ErrorCode = "InvalidTransition"
	CodeInsufficientStock  ErrorCode = "InsufficientStock"
	CodePermissionDenied   ErrorCode = "PermissionDenied"
	CodeConflict           ErrorCode = "Conflict"
	CodeBusy               ErrorCode = "Busy"
	CodeUnauthenticated    ErrorCode = "Unauthenticated"
	CodeInvariantViolation ErrorCode = "InvariantViolation"
	CodeInternal           ErrorCode = "InternalError"
)

// Error is the typed failure returned by stores and the ledger. Two errors
// match under errors.Is when their codes are equal, so callers compare
// against the sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrInsufficientStock  = &Error{Code: CodeInsufficientStock, Message: "insufficient stock available"}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrBusy               = &Error{Code: CodeBusy, Message: "resource busy, retry later"}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation, Message: "invariant violation"}
)

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return newError(CodeNotFound, format, args...)
}

func Validationf(format string, args ...any) error {
	return newError(CodeValidation, format, args...)
}

func InvalidTransitionf(format string, args ...any) error {
	return newError(CodeInvalidTransition, format, args...)
}

func InsufficientStockf(available, requested int) error {
	return newError(CodeInsufficientStock, "insufficient stock: available %d, requested %d", available, requested)
}

func PermissionDeniedf(format string, args ...any) error {
	return newError(CodePermissionDenied, format, args...)
}

func Conflictf(format string, args ...any) error {
	return newError(CodeConflict, format, args...)
}

func Busyf(format string, args ...any) error {
	return newError(CodeBusy, format, args...)
}

func InvariantViolationf(format string, args ...any) error {
	return newError(CodeInvariantViolation, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal for anything untyped.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// TransientError marks a storage failure that may succeed when retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsRetryable reports whether the caller may retry the same request
// unchanged. Validation and permission failures are never retryable.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrBusy) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}
