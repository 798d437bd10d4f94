package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a request rejected before any backend call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrSelectOnly is the reason reported when run_sql receives anything but a SELECT.
var ErrSelectOnly = invalid("query", "only SELECT queries are allowed")

// RejectedError reports an operation refused by a Before hook.
type RejectedError struct {
	Operation string
	Err       error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Operation, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// StatusOf maps an operation error to an HTTP status code.
func StatusOf(err error) int {
	var (
		validationErr *ValidationError
		rejectedErr   *RejectedError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &rejectedErr):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
