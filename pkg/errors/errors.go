// Package errors provides structured error handling for the connection pool.
//
// Every failure surfaced by the pool is an *Error carrying a Type that callers
// branch on (exhausted vs. disconnected vs. programming error), an optional
// Cause that stays reachable through Unwrap, key-value Details and the stack
// captured at the point of creation.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal bookkeeping errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypePoolExhausted represents an acquire that ran out of time waiting for capacity
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"
	// ErrorTypeDisconnection represents a connection found dead by ping, listener or driver
	ErrorTypeDisconnection ErrorType = "disconnection"
	// ErrorTypeInvalidRequest represents misuse of a handle or a disposed pool
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeResetFailure represents a failed rollback/commit on return
	ErrorTypeResetFailure ErrorType = "reset_failure"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents failures establishing a new connection
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents a caller-side cancellation or deadline
	ErrorTypeTimeout ErrorType = "timeout"
)

// detailInvalidatePool marks a disconnection that affects every pooled connection.
const detailInvalidatePool = "invalidate_pool"

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if stderrors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Disconnection builds a disconnection error. When invalidatePool is set the
// pool treats the failure as affecting every connection of the current
// generation.
func Disconnection(cause error, message string, invalidatePool bool) *Error {
	e := &Error{
		Type:    ErrorTypeDisconnection,
		Message: message,
		Cause:   cause,
		Stack:   captureStack(2),
	}
	if invalidatePool {
		e.WithDetail(detailInvalidatePool, true)
	}
	return e
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypePoolExhausted, ErrorTypeDisconnection, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any error in the chain has the given type. IsType
// only looks at the outermost *Error.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsExhausted reports whether err is a pool-exhausted error.
func IsExhausted(err error) bool { return IsType(err, ErrorTypePoolExhausted) }

// IsDisconnection reports whether err is or wraps a disconnection error.
func IsDisconnection(err error) bool { return HasType(err, ErrorTypeDisconnection) }

// IsInvalidRequest reports whether err is a programming error on a handle or pool.
func IsInvalidRequest(err error) bool { return IsType(err, ErrorTypeInvalidRequest) }

// IsResetFailure reports whether err is a reset-on-return failure.
func IsResetFailure(err error) bool { return IsType(err, ErrorTypeResetFailure) }

// InvalidatesPool reports whether err is a disconnection flagged as affecting
// the whole pool.
func InvalidatesPool(err error) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == ErrorTypeDisconnection {
			if v, ok := e.Details[detailInvalidatePool].(bool); ok && v {
				return true
			}
		}
		err = e.Cause
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
