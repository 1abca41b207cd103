package errors

import (
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Policy errors
	ErrPolicyParse    ErrorCode = "POLICY_PARSE"
	ErrPolicyValidate ErrorCode = "POLICY_VALIDATE"
	ErrPolicyDenied   ErrorCode = "POLICY_DENIED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"

	// Sandbox errors
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrWasmTrap          ErrorCode = "WASM_TRAP"

	// Bundle errors
	ErrBundleInvalid        ErrorCode = "BUNDLE_INVALID"
	ErrBundleDigestMismatch ErrorCode = "BUNDLE_DIGEST_MISMATCH"

	// Registry errors
	ErrRegistryAuth      ErrorCode = "REGISTRY_AUTH"
	ErrRegistryNotFound  ErrorCode = "REGISTRY_NOT_FOUND"
	ErrRegistryTransient ErrorCode = "REGISTRY_TRANSIENT"
	ErrRegistryFatal     ErrorCode = "REGISTRY_FATAL"

	// Generic errors
	ErrIO                ErrorCode = "IO"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrCancelled         ErrorCode = "CANCELLED"
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrInternal          ErrorCode = "INTERNAL"
)

// MCPKitError is a custom error type with error code and context
type MCPKitError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Hint    string
	Path    string
	Fields  map[string]interface{}
}

// Error implements the error interface
func (e *MCPKitError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Path != "" {
		prefix = fmt.Sprintf("%s %s", prefix, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause
func (e *MCPKitError) Unwrap() error {
	return e.Cause
}

// WithHint adds a hint to help users resolve the error
func (e *MCPKitError) WithHint(hint string) *MCPKitError {
	e.Hint = hint
	return e
}

// WithPath records the location inside a document or URI this error refers to
func (e *MCPKitError) WithPath(path string) *MCPKitError {
	e.Path = path
	return e
}

// WithField adds a context field to the error
func (e *MCPKitError) WithField(key string, value interface{}) *MCPKitError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// GetFullMessage returns the full error message with hint
func (e *MCPKitError) GetFullMessage() string {
	msg := e.Error()
	if e.Hint != "" {
		msg += fmt.Sprintf("\nHint: %s", e.Hint)
	}
	return msg
}

// New creates a new MCPKitError
func New(code ErrorCode, message string) *MCPKitError {
	return &MCPKitError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a MCPKitError
func Wrap(code ErrorCode, message string, cause error) *MCPKitError {
	return &MCPKitError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*MCPKitError); ok {
		return ce.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ce, ok := err.(*MCPKitError); ok {
		return ce.Code
	}
	return ErrInternal
}

// Common error constructors for convenience

// ErrInvalidConfigError creates an invalid config error
func ErrInvalidConfigError(message string) *MCPKitError {
	return New(ErrInvalidConfig, message).WithHint("check the configuration document and try again")
}

// ErrInternalError creates an internal error
func ErrInternalError(message string, cause error) *MCPKitError {
	return Wrap(ErrInternal, message, cause).WithHint("this is likely a bug in mcpkit")
}
