// Package mcp exposes the tenant lifecycle and retrieval operations as Model
// Context Protocol tools over stdio.
package mcp

import (
	"context"
	stderrors "errors"
	"fmt"

	cferrors "github.com/confrag/confrag/internal/errors"
)

// Custom MCP error codes, in the JSON-RPC implementation-defined range.
const (
	ErrCodeTenantNotFound = -32001
	ErrCodeNotReady       = -32002
	ErrCodeUpstream       = -32003
	ErrCodeTimeout        = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is a protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors so agents get stable codes
// instead of Go error strings.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var tenantErr *cferrors.TenantError
	if stderrors.As(err, &tenantErr) {
		return mapTenantError(tenantErr)
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case stderrors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

func mapTenantError(err *cferrors.TenantError) *MCPError {
	switch err.Code {
	case cferrors.ErrCodeTenantNotFound:
		return &MCPError{Code: ErrCodeTenantNotFound, Message: err.Message}
	case cferrors.ErrCodeNotReady:
		return &MCPError{Code: ErrCodeNotReady, Message: err.Message}
	case cferrors.ErrCodeUpstreamUnreachable, cferrors.ErrCodeUpstreamRejected:
		return &MCPError{Code: ErrCodeUpstream, Message: err.Message}
	case cferrors.ErrCodeInvalidTenantID, cferrors.ErrCodeQueryEmpty,
		cferrors.ErrCodeInvalidInput, cferrors.ErrCodeConfigInvalid:
		return &MCPError{Code: ErrCodeInvalidParams, Message: err.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Message}
	}
}

// NewInvalidParamsError creates an invalid-parameters error with a custom
// message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}
