package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; DomainError unwraps to its kind.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidationFailed = errors.New("validation failed")
	ErrStalled          = errors.New("copy job stalled")
	ErrClosed           = errors.New("document closed")
)

// DomainError carries a kind, a caller-facing message and optional details
// (missing fields, the overwrite warning, the offending transition).
type DomainError struct {
	Kind    error
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Kind
}

func domainError(kind error, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Details: details,
	}
}
