package tool

import (
	"errors"
	"fmt"
)

// Error codes categorizing tool call failures. All of them surface as failed
// tool call results on the owning message, never as process faults.
const (
	// CodeNotFound: the named tool is not registered. The failed record is
	// terminal and the call is never retried.
	CodeNotFound = "TOOL_NOT_FOUND"
	// CodeMalformedArguments: the raw argument payload is not valid JSON.
	CodeMalformedArguments = "MALFORMED_ARGUMENTS"
	// CodeSchemaViolation: the parsed arguments fail structural validation;
	// Details carries the individual violations.
	CodeSchemaViolation = "SCHEMA_VIOLATION"
	// CodeExecutionFailed: the builtin function returned an error or the
	// HTTP transport faulted (non-2xx status, unreachable host, bad JSON).
	CodeExecutionFailed = "TOOL_EXECUTION_FAILED"
	// CodeRegistration: duplicate name or uncompilable schema at Register
	// time. This is the only code raised outside a Run call.
	CodeRegistration = "TOOL_REGISTRATION"
)

// Error represents a tool subsystem failure with a categorizing code.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new Error with the specified details.
func NewError(toolName, message, code string) *Error {
	return &Error{Tool: toolName, Message: message, Code: code}
}

// IsCode reports whether err is (or wraps) a tool Error with the given code.
func IsCode(err error, code string) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}
