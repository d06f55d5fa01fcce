package errors

import (
	"errors"
	"fmt"
)

// Error types for the billing domain
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeDomainState ErrorType = "domain_state"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
)

// AppError represents a structured application error
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewValidationError reports malformed input. Nothing is persisted.
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// NewDomainStateError reports a request the current domain state forbids.
// It aborts the enclosing transaction.
func NewDomainStateError(code, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeDomainState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:      ErrorTypeNotFound,
		Code:      "RESOURCE_NOT_FOUND",
		Message:   fmt.Sprintf("%s not found", resource),
		Retryable: false,
	}
}

// NewConflictError reports a collision with a concurrent writer. Callers may retry once.
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeConflict,
		Code:      "CONFLICT",
		Message:   message,
		Retryable: true,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:      ErrorTypeInternal,
		Code:      "INTERNAL_ERROR",
		Message:   message,
		Retryable: false,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:      ErrorTypeExternal,
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("%s service error: %s", service, message),
		Retryable: true,
		Details:   map[string]interface{}{"service": service},
	}
}

// Predefined codes
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeInvalidPeriod         = "INVALID_PERIOD"
	CodeIllegalTransition     = "ILLEGAL_TRANSITION"
	CodeNoActiveBeneficiaries = "NO_ACTIVE_BENEFICIARIES"
	CodeUnknownVATCountry     = "UNKNOWN_VAT_COUNTRY"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeBatchClosed           = "BATCH_CLOSED"
	CodeBatchOverflow         = "BATCH_OVERFLOW"
	CodeInvoiceImmutable      = "INVOICE_IMMUTABLE"
)

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

func IsDomainState(err error) bool {
	return IsType(err, ErrorTypeDomainState)
}

func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// Code extracts the error code, or "" when err is not an AppError
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
