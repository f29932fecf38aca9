package upstream

import (
	"errors"
	"fmt"
)

// ErrValidation matches every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError is a caller input fault detected before any upstream call.
// Message is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a *ValidationError.
func Invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// StatusError carries a non-2xx or fault response through code paths that
// need a Go error, such as a pager fetch.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	if e == nil || e.Response == nil {
		return "upstream error"
	}
	return fmt.Sprintf("upstream status %d: %s", e.Response.StatusCode, e.Response.ErrorMessage("request failed"))
}
