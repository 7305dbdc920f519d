package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across engines and mapped to HTTP statuses in cmd/api.
var (
	ErrInvalidQuery         = errors.New("invalid query")
	ErrInvalidFilter        = errors.New("invalid filter")
	ErrInvalidEntry         = errors.New("invalid health entry")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrStoreUnavailable     = errors.New("vector store unavailable")
	ErrQuerySyntax          = errors.New("filter expression syntax")
	ErrIndexNotFound        = errors.New("index not found")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrUnexpectedDocument   = errors.New("unexpected document shape")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDuplicateEntry       = errors.New("duplicate health entry")
	ErrNotFound             = errors.New("not found")
	ErrInvalidProfile       = errors.New("invalid profile")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
