package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors shared by the upload and ask pipelines.
var (
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrEmptyText          = errors.New("no extractable text")
	ErrDecoding           = errors.New("file encoding not supported")
	ErrChunkConfig        = errors.New("invalid chunk configuration")
	ErrNoHits             = errors.New("no relevant documents found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrBackendUnavailable = errors.New("completion backend unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
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

// BackendError is a non-2xx answer from the completion backend. Detail holds
// the response body: verbatim when it is valid JSON, otherwise as a JSON string.
type BackendError struct {
	Status int
	Detail json.RawMessage
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("completion backend: status %d: %s", e.Status, e.Detail)
}

// NewBackendError builds a BackendError from a raw response body.
func NewBackendError(status int, body []byte) *BackendError {
	if len(body) > 0 && json.Valid(body) {
		return &BackendError{Status: status, Detail: json.RawMessage(body)}
	}
	detail, _ := json.Marshal(string(body))
	return &BackendError{Status: status, Detail: detail}
}

// Retryable reports whether err is a transient failure a caller may retry.
func Retryable(err error) bool {
	if errors.Is(err, ErrBackendUnavailable) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Status >= 500
	}
	return false
}
