package apierror

import (
	"net/http"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

// StandardError is the JSON body of every failed HTTP response.
type StandardError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Retryable tells clients the same request may succeed later.
	Retryable bool `json:"retryable,omitempty"`
}

func (e *StandardError) Error() string {
	return e.Message
}

// HTTPStatus maps the error code to a response status.
func (e *StandardError) HTTPStatus() int {
	switch domain.ErrorCode(e.Code) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict, domain.CodeInvalidTransition, domain.CodeInsufficientStock:
		return http.StatusConflict
	case domain.CodeBusy:
		return http.StatusServiceUnavailable
	case domain.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func New(code domain.ErrorCode, message, details string) *StandardError {
	return &StandardError{Code: string(code), Message: message, Details: details}
}

// FromDomain wraps err with a user-facing message. Internal details stay
// out of the body.
func FromDomain(err error, message string) *StandardError {
	code := domain.CodeOf(err)
	e := New(code, message, "")
	if code != domain.CodeInternal {
		e.Details = err.Error()
	}
	e.Retryable = domain.IsRetryable(err)
	return e
}

func NewUnauthenticated(message, details string) *StandardError {
	return New(domain.CodeUnauthenticated, message, details)
}

func NewValidation(message, details string) *StandardError {
	return New(domain.CodeValidation, message, details)
}
