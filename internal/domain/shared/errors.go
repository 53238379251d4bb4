package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorKind classifies a domain error by how callers are expected to react to it
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindStockConflict       ErrorKind = "STOCK_CONFLICT"
	KindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"
	KindNumberingConflict   ErrorKind = "NUMBERING_CONFLICT"
	KindInvariantViolation  ErrorKind = "INVARIANT_VIOLATION"
	KindState               ErrorKind = "INVALID_STATE"
)

// genericRetryMessage is shown for failures the caller cannot fix by changing input
const genericRetryMessage = "The operation could not be completed, please try again"

// DomainError represents a domain-level error
type DomainError struct {
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Kind          ErrorKind `json:"kind,omitempty"`
	Field         string    `json:"field,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	cause         error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches domain errors by code so wrapped instances compare equal to the sentinels below
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error wrapping cause
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.cause = cause
	return &cp
}

// UserMessage returns the text safe to show to the caller.
// Numbering and internal failures hide their details behind a correlation id.
func (e *DomainError) UserMessage() string {
	switch e.Kind {
	case KindNumberingConflict, KindInvariantViolation:
		if e.CorrelationID != "" {
			return fmt.Sprintf("%s (ref %s)", genericRetryMessage, e.CorrelationID)
		}
		return genericRetryMessage
	default:
		return e.Message
	}
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = &DomainError{Code: "NOT_FOUND", Message: "Resource not found", Kind: KindNotFound}
	ErrAlreadyExists       = &DomainError{Code: "ALREADY_EXISTS", Message: "Resource already exists", Kind: KindValidation}
	ErrInvalidInput        = &DomainError{Code: "INVALID_INPUT", Message: "Invalid input provided", Kind: KindValidation}
	ErrConcurrencyConflict = &DomainError{Code: "CONCURRENCY_CONFLICT", Message: "Resource was modified by another process", Kind: KindConcurrencyConflict}
	ErrInvalidState        = &DomainError{Code: "INVALID_STATE", Message: "Operation not allowed in current state", Kind: KindState}
	ErrInsufficientStock   = &DomainError{Code: "INSUFFICIENT_STOCK", Message: "Insufficient stock available", Kind: KindStockConflict}
	ErrNumberingConflict   = &DomainError{Code: "NUMBERING_CONFLICT", Message: "Invoice number collided with a concurrent allocation", Kind: KindNumberingConflict}
	ErrInvariantViolation  = &DomainError{Code: "INVARIANT_VIOLATION", Message: "Internal consistency check failed", Kind: KindInvariantViolation}
)

// NewValidationError reports bad input on a specific field
func NewValidationError(field, message string) *DomainError {
	return &DomainError{
		Code:    ErrInvalidInput.Code,
		Message: message,
		Kind:    KindValidation,
		Field:   field,
	}
}

// NewNotFoundError reports a resource missing from the tenant scope
func NewNotFoundError(resource string, id fmt.Stringer) *DomainError {
	return &DomainError{
		Code:    ErrNotFound.Code,
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Kind:    KindNotFound,
		Field:   resource,
	}
}

// NewStockConflictError reports a product whose available stock cannot cover the request
func NewStockConflictError(productID uuid.UUID, available, requested fmt.Stringer) *DomainError {
	return &DomainError{
		Code:    ErrInsufficientStock.Code,
		Message: fmt.Sprintf("insufficient stock for product %s: available %s, requested %s", productID, available, requested),
		Kind:    KindStockConflict,
		Field:   "items",
	}
}

// NewConcurrencyConflictError names the last modifier so the caller knows whom they raced
func NewConcurrencyConflictError(lastModifiedBy *uuid.UUID, lastModifiedAt time.Time) *DomainError {
	who := "another user"
	if lastModifiedBy != nil {
		who = "user " + lastModifiedBy.String()
	}
	return &DomainError{
		Code: ErrConcurrencyConflict.Code,
		Message: fmt.Sprintf("invoice was modified by %s at %s, reload and retry",
			who, lastModifiedAt.UTC().Format(time.RFC3339)),
		Kind: KindConcurrencyConflict,
	}
}

// NewNumberingConflictError reports an invoice number that could not be allocated
func NewNumberingConflictError(message string, cause error) *DomainError {
	return &DomainError{
		Code:          ErrNumberingConflict.Code,
		Message:       message,
		Kind:          KindNumberingConflict,
		CorrelationID: uuid.NewString(),
		cause:         cause,
	}
}

// NewInvariantViolation reports an unexpected internal state
func NewInvariantViolation(message string) *DomainError {
	return &DomainError{
		Code:          ErrInvariantViolation.Code,
		Message:       message,
		Kind:          KindInvariantViolation,
		CorrelationID: uuid.NewString(),
	}
}

// KindOf returns the kind of a domain error anywhere in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
