package errors

import (
	stderrors "errors"
	"fmt"
)

// TenantError is the structured error type for confrag.
// It provides rich context for error handling, logging, and user presentation.
type TenantError struct {
	// Code is the unique error code (e.g., "ERR_201_TENANT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, State, Upstream, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *TenantError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *TenantError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with TenantError.
func (e *TenantError) Is(target error) bool {
	if t, ok := target.(*TenantError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *TenantError) WithDetail(key, value string) *TenantError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new TenantError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *TenantError {
	return &TenantError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a TenantError from an existing error.
// The error's message becomes the TenantError message.
func Wrap(code string, err error) *TenantError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotFound creates an unknown-tenant error.
func NotFound(tenantID string) *TenantError {
	return New(ErrCodeTenantNotFound, fmt.Sprintf("tenant %q not found", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

// AlreadyExists creates a duplicate-onboarding error.
func AlreadyExists(tenantID string) *TenantError {
	return New(ErrCodeTenantExists, fmt.Sprintf("tenant %q already exists", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

// InvalidConfig creates a configuration-related error.
func InvalidConfig(message string, cause error) *TenantError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// UpstreamFailure creates an upstream Confluence error.
func UpstreamFailure(message string, cause error) *TenantError {
	return New(ErrCodeUpstreamUnreachable, message, cause)
}

// BuildFailure creates an index construction error.
func BuildFailure(message string, cause error) *TenantError {
	return New(ErrCodeBuildFailed, message, cause)
}

// NotReady creates a query-before-build error.
func NotReady(tenantID string) *TenantError {
	return New(ErrCodeNotReady, fmt.Sprintf("tenant %q has no ready index; run export and index first", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

// BackendFailure creates a retrieval-backend error.
func BackendFailure(message string, cause error) *TenantError {
	return New(ErrCodeSearchFailed, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a TenantError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if te, ok := err.(*TenantError); ok {
		return te.Retryable
	}
	return false
}

// IsCode checks whether err (or anything it wraps) is a TenantError
// carrying the given code.
func IsCode(err error, code string) bool {
	var te *TenantError
	return stderrors.As(err, &te) && te.Code == code
}

// GetCode extracts the error code from a TenantError.
// Returns empty string if not a TenantError.
func GetCode(err error) string {
	if te, ok := err.(*TenantError); ok {
		return te.Code
	}
	return ""
}

// GetCategory extracts the category from a TenantError.
// Returns empty string if not a TenantError.
func GetCategory(err error) Category {
	if te, ok := err.(*TenantError); ok {
		return te.Category
	}
	return ""
}
