// Package errors provides structured error handling for confrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Tenant state and IO errors
//   - 3XX: Upstream (Confluence) errors
//   - 4XX: Validation errors
//   - 5XX: Internal and retrieval-backend errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryState indicates tenant state and disk I/O errors.
	CategoryState Category = "STATE"
	// CategoryUpstream indicates upstream Confluence errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid    = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound   = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeSecretUnresolved = "ERR_103_SECRET_UNRESOLVED"

	// Tenant state / IO errors (200-299)
	ErrCodeTenantNotFound = "ERR_201_TENANT_NOT_FOUND"
	ErrCodeTenantExists   = "ERR_202_TENANT_EXISTS"
	ErrCodeStateCorrupt   = "ERR_203_STATE_CORRUPT"
	ErrCodeStateLock      = "ERR_204_STATE_LOCK"
	ErrCodeStateIO        = "ERR_205_STATE_IO"

	// Upstream errors (300-399)
	ErrCodeUpstreamUnreachable = "ERR_301_UPSTREAM_UNREACHABLE"
	ErrCodeUpstreamRejected    = "ERR_302_UPSTREAM_REJECTED"
	ErrCodeExportCanceled      = "ERR_303_EXPORT_CANCELED"

	// Validation errors (400-499)
	ErrCodeInvalidTenantID = "ERR_401_INVALID_TENANT_ID"
	ErrCodeQueryEmpty      = "ERR_402_QUERY_EMPTY"
	ErrCodeInvalidInput    = "ERR_403_INVALID_INPUT"

	// Internal / backend errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeBuildFailed     = "ERR_504_BUILD_FAILED"
	ErrCodeNotReady        = "ERR_505_NOT_READY"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_TENANT_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryState
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStateCorrupt:
		return SeverityFatal
	case ErrCodeNotReady, ErrCodeQueryEmpty:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether an operation failing with this code
// may succeed on retry. Upstream failures are transient by default;
// cancellation is deliberate and never retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstreamUnreachable, ErrCodeEmbeddingFailed, ErrCodeStateLock:
		return true
	default:
		return false
	}
}
