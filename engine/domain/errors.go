package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Collaborator adapters wrap their failures with one of
// these so callers can branch with errors.Is.
var (
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrRetrievalUnavailable  = errors.New("retrieval unavailable")
	ErrStoreWrite            = errors.New("store write failed")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrInvalidQuery          = errors.New("invalid query")
	ErrInvalidDocument       = errors.New("invalid document")
)

// ValidationError wraps a sentinel with the offending field.
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

// UnitError attributes an ingestion failure to one unit of a document.
type UnitError struct {
	Unit  int
	Stage string // "chunk", "embed", "write"
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("unit %d: %s: %v", e.Unit, e.Stage, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// CollectionStatus is the structured outcome of preparing a collection.
// Every status is a success; failures are reported as errors.
type CollectionStatus int

const (
	StatusCreated CollectionStatus = iota
	StatusAlreadyExists
	StatusLoaded
	StatusAlreadyLoaded
)

func (s CollectionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusAlreadyExists:
		return "already_exists"
	case StatusLoaded:
		return "loaded"
	case StatusAlreadyLoaded:
		return "already_loaded"
	default:
		return "unknown"
	}
}
