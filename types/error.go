package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the gateway.
type ErrorCode string

// Request / upstream error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrAuthentication     ErrorCode = "AUTHENTICATION"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Coalescing layer error codes
const (
	ErrConfiguration  ErrorCode = "CONFIGURATION"
	ErrCleared        ErrorCode = "CLEARED"
	ErrClosed         ErrorCode = "CLOSED"
	ErrResultMismatch ErrorCode = "RESULT_MISMATCH"
	ErrWarmInProgress ErrorCode = "WARM_IN_PROGRESS"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError 从错误链中提取 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode 判断错误链中是否包含指定错误码
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// IsCleared 判断调用是否因 Clear 被拒绝
func IsCleared(err error) bool {
	return IsErrorCode(err, ErrCleared)
}

// NewConfigurationError 创建配置错误（构造阶段致命）
func NewConfigurationError(format string, args ...any) *Error {
	return NewError(ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewInvalidRequestError 创建请求参数错误
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message)
}
