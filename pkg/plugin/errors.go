package plugin

import (
	"errors"
	"fmt"
)

// ErrUnknownPlugin is returned when a sub-step names a plugin the registry
// does not hold.
var ErrUnknownPlugin = errors.New("unknown plugin")

// ErrorClass represents the classification of an execution error for retry
// logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: connection refused, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassTimeout indicates the plugin invocation exceeded its
	// deadline. Retried only when the retry policy allows timeouts.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassFatal indicates a non-recoverable failure.
	// Examples: command exited non-zero, file not found, bad credentials.
	ErrorClassFatal ErrorClass = "fatal"
)

// ExecError represents a classified plugin execution failure.
type ExecError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass

	// Plugin is the plugin that produced the error.
	Plugin string

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error that caused this error.
	Err error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("[%s] plugin %s: %s%s", e.Class, e.Plugin, e.Message, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ExecError) Unwrap() error {
	return e.Err
}

func (e *ExecError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// NewTransientError creates a new transient execution error.
func NewTransientError(message string, err error) *ExecError {
	return &ExecError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewTimeoutError creates a new timeout execution error.
func NewTimeoutError(message string, err error) *ExecError {
	return &ExecError{Class: ErrorClassTimeout, Message: message, Err: err}
}

// NewFatalError creates a new fatal execution error.
func NewFatalError(message string, err error) *ExecError {
	return &ExecError{Class: ErrorClassFatal, Message: message, Err: err}
}

// WithPlugin adds the plugin name to an error.
func (e *ExecError) WithPlugin(name string) *ExecError {
	e.Plugin = name
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTimeout
	}
	return false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *ExecError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsRetryable returns true if the error can be retried under a retry policy
// that accepts timeouts. Transient and timeout errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsTimeout(err)
}

// ConfigError represents a parameter validation failure. Config errors are
// deterministic and never retried.
type ConfigError struct {
	// Plugin is the plugin whose parameters failed validation.
	Plugin string

	// Param is the offending parameter, if the failure is tied to one.
	Param string

	// Message is the human-readable error message.
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("plugin %s: invalid parameter %q: %s", e.Plugin, e.Param, e.Message)
	}
	return fmt.Sprintf("plugin %s: invalid parameters: %s", e.Plugin, e.Message)
}

// NewConfigError creates a parameter validation error.
func NewConfigError(plugin, param, message string) *ConfigError {
	return &ConfigError{Plugin: plugin, Param: param, Message: message}
}
