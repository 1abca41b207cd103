package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrPolicyDenied, "test error message")

	if err == nil {
		t.Fatal("Expected error to be created, got nil")
	}

	if err.Code != ErrPolicyDenied {
		t.Errorf("Expected error code %s, got %s", ErrPolicyDenied, err.Code)
	}

	if err.Message != "test error message" {
		t.Errorf("Expected message 'test error message', got '%s'", err.Message)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrRegistryTransient, "wrapper message", cause)

	if err == nil {
		t.Fatal("Expected error to be created, got nil")
	}

	if err.Code != ErrRegistryTransient {
		t.Errorf("Expected error code %s, got %s", ErrRegistryTransient, err.Code)
	}

	if err.Message != "wrapper message" {
		t.Errorf("Expected message 'wrapper message', got '%s'", err.Message)
	}

	if err.Cause != cause {
		t.Error("Expected cause to be set")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *MCPKitError
		expected string
	}{
		{
			name:     "Error without cause",
			err:      New(ErrPolicyDenied, "test error"),
			expected: "[POLICY_DENIED] test error",
		},
		{
			name:     "Error with cause",
			err:      Wrap(ErrRegistryTransient, "wrapper", errors.New("cause")),
			expected: "[REGISTRY_TRANSIENT] wrapper: cause",
		},
		{
			name:     "Error with path",
			err:      New(ErrPolicyValidate, "bad rule").WithPath("core.storage.allow[0]"),
			expected: "[POLICY_VALIDATE] core.storage.allow[0] bad rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error string '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrRegistryTransient, "wrapper message", cause)

	unwrapped := err.Unwrap()
	if unwrapped != cause {
		t.Error("Expected Unwrap to return the cause")
	}
}

func TestWithHint(t *testing.T) {
	err := New(ErrInvalidConfig, "invalid config").
		WithHint("check the configuration document")

	if err.Hint != "check the configuration document" {
		t.Errorf("Expected hint to be set, got '%s'", err.Hint)
	}

	fullMsg := err.GetFullMessage()
	if !strings.Contains(fullMsg, "Hint: check the configuration document") {
		t.Errorf("Expected full message to contain hint, got '%s'", fullMsg)
	}
}

func TestWithField(t *testing.T) {
	err := New(ErrPolicyDenied, "test error").
		WithField("tool", "calc.add")

	if err.Fields == nil {
		t.Fatal("Expected fields map to be initialized")
	}

	if err.Fields["tool"] != "calc.add" {
		t.Errorf("Expected field 'tool' to be 'calc.add', got '%v'", err.Fields["tool"])
	}
}

func TestWithMultipleFields(t *testing.T) {
	err := New(ErrPolicyDenied, "test error").
		WithField("key1", "value1").
		WithField("key2", 123)

	if len(err.Fields) != 2 {
		t.Errorf("Expected 2 fields, got %d", len(err.Fields))
	}

	if err.Fields["key1"] != "value1" {
		t.Errorf("Expected field 'key1' to be 'value1', got '%v'", err.Fields["key1"])
	}

	if err.Fields["key2"] != 123 {
		t.Errorf("Expected field 'key2' to be 123, got '%v'", err.Fields["key2"])
	}
}

func TestWithPath(t *testing.T) {
	err := New(ErrPolicyValidate, "unknown version").WithPath("version")

	if err.Path != "version" {
		t.Errorf("Expected path 'version', got '%s'", err.Path)
	}
}

func TestIsErrorCode(t *testing.T) {
	err := New(ErrPolicyDenied, "test error")

	if !IsErrorCode(err, ErrPolicyDenied) {
		t.Error("Expected IsErrorCode to return true for matching code")
	}

	if IsErrorCode(err, ErrRateLimited) {
		t.Error("Expected IsErrorCode to return false for non-matching code")
	}

	if IsErrorCode(nil, ErrPolicyDenied) {
		t.Error("Expected IsErrorCode to return false for nil error")
	}

	stdErr := errors.New("standard error")
	if IsErrorCode(stdErr, ErrPolicyDenied) {
		t.Error("Expected IsErrorCode to return false for standard error")
	}
}

func TestGetErrorCode(t *testing.T) {
	err := New(ErrPolicyDenied, "test error")

	code := GetErrorCode(err)
	if code != ErrPolicyDenied {
		t.Errorf("Expected error code %s, got %s", ErrPolicyDenied, code)
	}

	nilCode := GetErrorCode(nil)
	if nilCode != "" {
		t.Errorf("Expected empty code for nil error, got %s", nilCode)
	}

	stdErr := errors.New("standard error")
	stdCode := GetErrorCode(stdErr)
	if stdCode != ErrInternal {
		t.Errorf("Expected ErrInternal for standard error, got %s", stdCode)
	}
}

func TestErrInvalidConfigError(t *testing.T) {
	err := ErrInvalidConfigError("invalid memory limit")

	if err.Code != ErrInvalidConfig {
		t.Errorf("Expected error code %s, got %s", ErrInvalidConfig, err.Code)
	}

	if err.Message != "invalid memory limit" {
		t.Errorf("Expected message 'invalid memory limit', got '%s'", err.Message)
	}

	if err.Hint == "" {
		t.Error("Expected hint to be set")
	}
}

func TestErrInternalError(t *testing.T) {
	cause := errors.New("internal failure")
	err := ErrInternalError("unexpected error", cause)

	if err.Code != ErrInternal {
		t.Errorf("Expected error code %s, got %s", ErrInternal, err.Code)
	}

	if err.Cause != cause {
		t.Error("Expected cause to be set")
	}

	if !strings.Contains(err.Hint, "bug") {
		t.Errorf("Expected hint to mention 'bug', got '%s'", err.Hint)
	}
}

func TestErrorCodes(t *testing.T) {
	codes := []ErrorCode{
		ErrPolicyParse,
		ErrPolicyValidate,
		ErrPolicyDenied,
		ErrRateLimited,
		ErrResourceExhausted,
		ErrWasmTrap,
		ErrBundleInvalid,
		ErrBundleDigestMismatch,
		ErrRegistryAuth,
		ErrRegistryNotFound,
		ErrRegistryTransient,
		ErrRegistryFatal,
		ErrIO,
		ErrTimeout,
		ErrCancelled,
		ErrInvalidConfig,
		ErrInternal,
	}

	for _, code := range codes {
		if code == "" {
			t.Errorf("Error code should not be empty")
		}
	}
}

func TestGetFullMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *MCPKitError
		contains []string
	}{
		{
			name:     "Error without hint",
			err:      New(ErrPolicyDenied, "test error"),
			contains: []string{"POLICY_DENIED", "test error"},
		},
		{
			name:     "Error with hint",
			err:      New(ErrInvalidConfig, "bad document").WithHint("fix it"),
			contains: []string{"INVALID_CONFIG", "bad document", "Hint:", "fix it"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fullMsg := tt.err.GetFullMessage()
			for _, substr := range tt.contains {
				if !strings.Contains(fullMsg, substr) {
					t.Errorf("Expected full message to contain '%s', got '%s'", substr, fullMsg)
				}
			}
		})
	}
}
