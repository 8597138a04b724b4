package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a record absent from the persistent store.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveCompany means the source answered but no company is
	// currently loaded.
	ErrNoActiveCompany = errors.New("no active company loaded in Tally")

	// ErrConflict is returned when a strict check finds the requested
	// company is not the one currently active in the source.
	ErrConflict = errors.New("active company mismatch")

	// ErrMissingBatchSize and ErrInsufficientStock are the two allocation
	// failure kinds; both are wrapped in a ValidationError with details.
	ErrMissingBatchSize  = errors.New("batch size not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// ValidationError wraps a sentinel with a human-readable detail naming the
// offending field or value.
type ValidationError struct {
	Err     error
	Details string
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return e.Details
	}
	if e.Details == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Details)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalidf builds a plain ValidationError from a format string.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Details: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
