// Package ingesterrors provides structured errors for the ACLED ingestion run.
// Errors carry a category, a message, the wrapped cause, key-value details and
// the call stack at the point of creation.
//
// # Basic Usage
//
//	// Create a new error
//	err := ingesterrors.New(ingesterrors.ErrorTypeConfig, "ACLED_API_URL is required")
//
//	// Wrap an existing error and add context
//	if err := job.Wait(ctx); err != nil {
//	    return ingesterrors.Wrap(err, ingesterrors.ErrorTypeLoad, "load job failed").
//	        WithDetail("table", ref.String())
//	}
//
// # Error Types
//
// A run only distinguishes two runtime failures: the source could not be
// fetched (ErrorTypeFetch, ErrorTypeDecode) or the destination rejected a batch
// (ErrorTypeLoad, ErrorTypeSchema). Both are fatal and neither is retried. The
// remaining types describe setup problems detected before the loop starts.
//
// # Thread Safety
//
// Error instances are not thread-safe for modification. Call WithDetail before
// sharing an error across goroutines.
package ingesterrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeValidation represents invalid arguments
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeFetch represents source request failures, including non-2xx responses
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeDecode represents source responses that are not valid JSON
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeLoad represents load job submission or execution failures
	ErrorTypeLoad ErrorType = "load"
	// ErrorTypeSchema represents batches rejected by the schema policy
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeConnection represents client construction or transport errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeCanceled represents runs interrupted by context cancellation
	ErrorTypeCanceled ErrorType = "canceled"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: categorizes the error
//   - Message: human-readable description
//   - Cause: the underlying error
//   - Details: key-value pairs with additional context
//   - Stack: call stack at the point of creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As see the chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. Calls can be chained.
//
// Example:
//
//	err := ingesterrors.New(ingesterrors.ErrorTypeFetch, "unexpected status").
//	    WithDetail("status", resp.StatusCode).
//	    WithDetail("body", body)
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns the detail stored under key, if any.
func (e *Error) Detail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message, capturing the
// call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. If err is already a
// structured Error its stack trace is preserved. Returns nil if err is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existingErr *Error
	if errors.As(err, &existingErr) {
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

// IsType reports whether the outermost structured error in err's chain has
// the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of the outermost structured error in err's chain,
// or ErrorTypeInternal when err carries none.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures up to maxFrames frames of the current call stack,
// skipping the given number of frames from the top.
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
