package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeStorage           = "STORAGE_ERROR"
	ErrCodeModelUnavailable  = "MODEL_UNAVAILABLE"
	ErrCodeDimensionMismatch = "DIMENSION_MISMATCH"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyText              = NewDomainError(ErrCodeValidation, "text cannot be empty")
	ErrInvalidRelevanceScore  = NewDomainError(ErrCodeValidation, "relevance score must be within [0,1]")
	ErrInvalidConfidence      = NewDomainError(ErrCodeValidation, "confidence must be within [0,1]")
	ErrInvalidTimeRange       = NewDomainError(ErrCodeValidation, "time range start must not be after end")
	ErrInvalidExtractionType  = NewDomainError(ErrCodeValidation, "invalid extraction type")
	ErrUnsupportedDocument    = NewDomainError(ErrCodeValidation, "unsupported document type")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidSearchType      = NewDomainError(ErrCodeValidation, "invalid memory search type")
	ErrInvalidEmbeddingLength = NewDomainError(ErrCodeValidation, "embedding has wrong dimensions")
)

// Vector math errors
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "vector dimensions do not match")
)

// Embedding backend errors
var (
	ErrModelUnavailable = NewDomainError(ErrCodeModelUnavailable, "embedding model unavailable")
)

// Not found errors
var (
	ErrFactNotFound         = NewDomainError(ErrCodeNotFound, "memory fact not found")
	ErrSummaryNotFound      = NewDomainError(ErrCodeNotFound, "conversation summary not found")
	ErrRelationshipNotFound = NewDomainError(ErrCodeNotFound, "entity relationship not found")
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrDocumentNotFound     = NewDomainError(ErrCodeNotFound, "document not found")
	ErrEmbeddingJobNotFound = NewDomainError(ErrCodeNotFound, "embedding job not found")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
)

// NewStorageError wraps an underlying persistence failure so callers can
// distinguish storage faults from domain faults.
func NewStorageError(op string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStorage, fmt.Sprintf("%s failed", op), err)
}
