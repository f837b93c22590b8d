package streams

import (
	"errors"
	"fmt"
)

// StreamError represents a domain-specific error.
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeStreamNotFound = "STREAM_NOT_FOUND"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewStreamError creates a new stream error.
func NewStreamError(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsNotFound reports whether err is a STREAM_NOT_FOUND error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeStreamNotFound) }

// IsInvalidInput reports whether err is an INVALID_INPUT error.
func IsInvalidInput(err error) bool { return hasCode(err, ErrCodeInvalidInput) }

func hasCode(err error, code string) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Code == code
}

func errNotFound(id string) error {
	return NewStreamError(ErrCodeStreamNotFound, fmt.Sprintf("stream %s not found", id), nil)
}

func errInvalid(format string, args ...any) error {
	return NewStreamError(ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

func errInternal(message string, cause error) error {
	return NewStreamError(ErrCodeInternal, message, cause)
}
