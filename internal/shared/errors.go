package shared

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Catalogue errors
	ErrConflict      = fmt.Errorf("conflict")
	ErrNotFound      = fmt.Errorf("not found")
	ErrAlreadyExists = fmt.Errorf("already exists")
	ErrInvalidPatch  = fmt.Errorf("invalid patch")
	ErrTransient     = fmt.Errorf("transient catalogue error")
	ErrUnauthorized  = fmt.Errorf("unauthorized")
	ErrAPIRequest    = fmt.Errorf("API request failed")

	// Task errors
	ErrValidation    = fmt.Errorf("task validation failed")
	ErrUnknownAction = fmt.Errorf("unknown action")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)

// IsFatal reports whether err should stop a worker instead of being retried on the next poll.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidConfig)
}

// IsConflict reports whether err came from a failed conditional patch.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
