// Package rpcerr defines the error vocabulary shared by every layer of
// the RPC core. Errors carry a machine-readable code for programmatic
// handling; messages are human-readable context.
package rpcerr

import (
	"errors"
	"fmt"
)

// Code identifies the category of an RPC core error.
type Code string

// Error codes produced by the core.
const (
	// CodeDecode indicates malformed wire input.
	// Example: a frame that is not valid JSON, or a truncated rich envelope.
	CodeDecode Code = "DECODE_ERROR"

	// CodeEncode indicates a value that cannot be serialized in the
	// selected codec mode, including cyclic argument graphs.
	CodeEncode Code = "ENCODE_ERROR"

	// CodeNotFound indicates a method path that does not resolve in the
	// exposed API tree.
	CodeNotFound Code = "NOT_FOUND"

	// CodeType indicates a terminal path segment that is not
	// callable/constructible/addressable as the operation requires.
	CodeType Code = "TYPE_ERROR"

	// CodeTransfer indicates a cycle through a transferable value or an
	// unknown transfer slot tag.
	CodeTransfer Code = "TRANSFER_ERROR"

	// CodeHandler wraps an error raised by a user handler.
	CodeHandler Code = "HANDLER_ERROR"

	// CodeStream indicates a producer-side failure observed by the
	// consumer during iteration.
	CodeStream Code = "STREAM_ERROR"

	// CodeChannelDestroyed rejects outstanding and subsequent operations
	// once the channel has been torn down.
	CodeChannelDestroyed Code = "CHANNEL_DESTROYED"

	// CodeProtocol indicates a message with an unknown kind, a missing
	// required field, or a duplicate request id.
	CodeProtocol Code = "PROTOCOL_ERROR"
)

// Error is the structured error type used across the core.
type Error struct {
	// Code is the machine-readable category.
	Code Code
	// Message is the human-readable description. Lowercase, no trailing
	// period, with context where applicable.
	Message string
	// Details carries optional context (method path, request id, ...).
	Details map[string]any
	// Err is the wrapped underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around err with a formatted message prefix.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail returns e after recording a detail key. The receiver is
// returned to allow chaining at construction sites.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the Code from err, unwrapping as needed. A chain with
// no *Error but a *RemoteError reports CodeHandler. Returns "" when err
// carries neither in its chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var r *RemoteError
	if errors.As(err, &r) {
		return CodeHandler
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool { return CodeOf(err) == code }
