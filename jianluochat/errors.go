package jianluochat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// ErrorUnknown covers anything the classifier could not place.
	ErrorUnknown ErrorCode = iota

	// ErrorAuthExpired is an HTTP 401: the stored token is no longer valid.
	ErrorAuthExpired

	// ErrorHTTP is any other non-2xx response; Status and Body carry detail.
	ErrorHTTP

	// ErrorNetwork means the request was sent but no response arrived.
	ErrorNetwork

	// ErrorTimeout is the timeout sub-case of a network failure.
	ErrorTimeout

	// ErrorSerialization means a payload could not be encoded or decoded.
	ErrorSerialization

	// ErrorConnection is a socket-level failure (dial, read, write).
	ErrorConnection

	// ErrorNotConnected means a frame was dropped because the socket is not open.
	ErrorNotConnected

	// ErrorServer is an ERROR frame reported by the server over the socket.
	ErrorServer

	// ErrorInvalidConfig means the client was constructed with unusable settings.
	ErrorInvalidConfig
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown_error"
	case ErrorAuthExpired:
		return "auth_expired"
	case ErrorHTTP:
		return "http_error"
	case ErrorNetwork:
		return "network_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorConnection:
		return "connection_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorServer:
		return "server_error"
	case ErrorInvalidConfig:
		return "invalid_config"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ChatError is a structured error with a code and optional HTTP context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Status  int    // HTTP status, set for ErrorHTTP and ErrorAuthExpired
	Body    string // raw response body, set for ErrorHTTP and ErrorAuthExpired
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// CodeOf extracts the error code, or ErrorUnknown for foreign errors.
func CodeOf(err error) ErrorCode {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrorUnknown
}

// IsAuthExpired checks if an error is an expired-auth failure.
func IsAuthExpired(err error) bool {
	return CodeOf(err) == ErrorAuthExpired
}

// IsNetworkError checks if an error is a network-level failure, including timeouts.
func IsNetworkError(err error) bool {
	code := CodeOf(err)
	return code == ErrorNetwork || code == ErrorTimeout
}

// HTTPStatus returns the HTTP status carried by err, if any.
func HTTPStatus(err error) (int, bool) {
	var ce *ChatError
	if errors.As(err, &ce) && ce.Status != 0 {
		return ce.Status, true
	}
	return 0, false
}
