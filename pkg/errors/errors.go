// Package errors defines custom error types for kapimage
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ClientInputError indicates a bad request from the caller (missing file, bad path)
	ClientInputError ErrorType = "client_input"
	// NotFoundError indicates a watched path or preview source does not exist
	NotFoundError ErrorType = "not_found"
	// ExternalToolError indicates the image converter subprocess failed
	ExternalToolError ErrorType = "external_tool"
	// CapabilityUnavailable indicates the watch subsystem cannot run in this process
	CapabilityUnavailable ErrorType = "capability_unavailable"
	// FileSystemError indicates file system related issues
	FileSystemError ErrorType = "filesystem"
	// ConfigError indicates configuration issues
	ConfigError ErrorType = "config"
)

// KapError is the base error type for all kapimage errors
type KapError struct {
	Type       ErrorType
	Message    string
	Err        error
	StatusCode int
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *KapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *KapError) Unwrap() error {
	return e.Err
}

// WithContext adds context to the error
func (e *KapError) WithContext(key string, value interface{}) *KapError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new KapError
func New(errType ErrorType, message string, err error) *KapError {
	return &KapError{
		Type:       errType,
		Message:    message,
		Err:        err,
		StatusCode: statusForType(errType),
	}
}

func statusForType(errType ErrorType) int {
	switch errType {
	case ClientInputError, NotFoundError:
		return http.StatusBadRequest
	case CapabilityUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// TypeOf returns the error type of the first KapError in err's chain, or "" if none
func TypeOf(err error) ErrorType {
	var ke *KapError
	if stderrors.As(err, &ke) {
		return ke.Type
	}
	return ""
}

// StatusCode returns the HTTP status associated with err
func StatusCode(err error) int {
	var ke *KapError
	if stderrors.As(err, &ke) && ke.StatusCode != 0 {
		return ke.StatusCode
	}
	return http.StatusInternalServerError
}

// IsClientInputError checks if the error is a client input error
func IsClientInputError(err error) bool {
	return TypeOf(err) == ClientInputError
}

// IsNotFoundError checks if the error indicates a resource was not found
func IsNotFoundError(err error) bool {
	return TypeOf(err) == NotFoundError
}

// IsExternalToolError checks if the error is an external tool failure
func IsExternalToolError(err error) bool {
	return TypeOf(err) == ExternalToolError
}

// IsCapabilityUnavailable checks if the error reports a missing capability
func IsCapabilityUnavailable(err error) bool {
	return TypeOf(err) == CapabilityUnavailable
}

// IsFileSystemError checks if the error is a file system error
func IsFileSystemError(err error) bool {
	return TypeOf(err) == FileSystemError
}

// IsConfigError checks if the error is a configuration error
func IsConfigError(err error) bool {
	return TypeOf(err) == ConfigError
}

// Constructor functions for each error type

// NewClientInputError creates a new client input error
func NewClientInputError(message string, err error) *KapError {
	return New(ClientInputError, message, err)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *KapError {
	return New(NotFoundError, message, err)
}

// NewExternalToolError creates a new external tool error
func NewExternalToolError(message string, err error) *KapError {
	return New(ExternalToolError, message, err)
}

// NewCapabilityUnavailable creates a new capability error
func NewCapabilityUnavailable(message string, err error) *KapError {
	return New(CapabilityUnavailable, message, err)
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, err error) *KapError {
	return New(FileSystemError, message, err)
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *KapError {
	return New(ConfigError, message, err)
}
