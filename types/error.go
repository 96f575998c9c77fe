package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Validation error codes (graph malformed, pre-execution; always fatal).
const (
	ErrValidation           ErrorCode = "VALIDATION"
	ErrCycleDetected        ErrorCode = "CYCLE_DETECTED"
	ErrMissingRequiredInput ErrorCode = "MISSING_REQUIRED_INPUT"
	ErrBlockNotFound        ErrorCode = "BLOCK_NOT_FOUND"
)

// Dispatch error codes.
const (
	ErrRetryableNode ErrorCode = "RETRYABLE_NODE"
	ErrFatalNode     ErrorCode = "FATAL_NODE"
	ErrCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
	ErrNodeTimeout   ErrorCode = "NODE_TIMEOUT"
	ErrCancelled     ErrorCode = "CANCELLED"
)

// Administrative-operation error codes.
const (
	ErrNotPaused    ErrorCode = "NOT_PAUSED"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrInvalidState ErrorCode = "INVALID_STATE"
)

// Infrastructure error codes.
const (
	ErrStore          ErrorCode = "STORE_ERROR"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	NodeID     string    `json:"node_id,omitempty"`
	Resource   string    `json:"resource,omitempty"`
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

// WithNodeID tags the error with the node it originated from.
func (e *Error) WithNodeID(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithResource tags the error with the external resource involved.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// NewRetryable creates a transient node error that the retry policy may retry.
func NewRetryable(message string, cause error) *Error {
	return &Error{Code: ErrRetryableNode, Message: message, Retryable: true, Cause: cause}
}

// NewFatal creates a non-retryable node error that propagates immediately.
func NewFatal(message string, cause error) *Error {
	return &Error{Code: ErrFatalNode, Message: message, Cause: cause}
}
