// Package errors provides unified error handling with structured error codes.
// Engine-internal failures are normalized into this taxonomy at the recognizer
// boundary so no raw engine errors cross internal package boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a failure class in the error taxonomy.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Fatal, startup-time: the process does not proceed to listening.
	CodeDeviceUnavailable Code = "DEVICE_UNAVAILABLE"
	CodeEngineUnavailable Code = "ENGINE_UNAVAILABLE"
	CodeConfigInvalid     Code = "CONFIG_INVALID"

	// Per-utterance, recoverable: the session fails, the system returns to Idle.
	CodeRecognitionError      Code = "RECOGNITION_ERROR"
	CodeUnsupportedConversion Code = "UNSUPPORTED_CONVERSION"
	CodeFormatMismatch        Code = "FORMAT_MISMATCH"
	CodeTimeout               Code = "TIMEOUT"
	CodeCancelled             Code = "CANCELLED"

	// Transient, surfaced as events.
	CodeFrameDropped       Code = "FRAME_DROPPED"
	CodeDeviceDisconnected Code = "DEVICE_DISCONNECTED"
)

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the error code from any error in the chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error carries a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsFatal reports whether the error terminates startup rather than a single
// utterance.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeDeviceUnavailable, CodeEngineUnavailable, CodeConfigInvalid:
		return true
	default:
		return false
	}
}
