package rpc

import "fmt"

// Code is a stable wire error code, part of the interoperability contract
// between clients and servers written in any language.
type Code int

const (
	CodeUnknown            Code = 0
	CodeMethodNotFound     Code = 1001
	CodeInvalidParameters  Code = 1002
	CodeInternalError      Code = 1003
	CodeTimeout            Code = 1004
	CodeSerializationError Code = 1005
	CodeConnectionError    Code = 1006
)

// Error is the RPC fabric's taxonomy of failures, reconstituted by the
// client from a failure Response and raised by handlers on the server to
// control what wire error code a failure maps to. Err implements the error
// interface, and Unwrap exposes any underlying cause.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

// String names a Code for logging and error messages.
func (c Code) String() string {
	switch c {
	case CodeMethodNotFound:
		return "MethodNotFound"
	case CodeInvalidParameters:
		return "InvalidParameters"
	case CodeInternalError:
		return "InternalError"
	case CodeTimeout:
		return "Timeout"
	case CodeSerializationError:
		return "SerializationError"
	case CodeConnectionError:
		return "ConnectionError"
	default:
		return "Unknown"
	}
}

// MethodNotFound reports that no handler is registered for method.
func MethodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %q", method)}
}

// InvalidParameters reports that a handler rejected its parameters. details
// carries caller-supplied structured context (e.g. the offending values).
func InvalidParameters(message string, details any) *Error {
	return &Error{Code: CodeInvalidParameters, Message: message, Details: details}
}

// InternalErrorFrom wraps an arbitrary handler failure as InternalError,
// carrying the failure's type name in Details per the propagation policy.
func InternalErrorFrom(err error) *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: err.Error(),
		Details: fmt.Sprintf("%T", err),
		Err:     err,
	}
}

// Timeout reports that a call's deadline of timeoutMs elapsed with no
// response.
func Timeout(timeoutMs int64) *Error {
	return &Error{Code: CodeTimeout, Message: fmt.Sprintf("timed out after %dms", timeoutMs)}
}

// SerializationErr reports a codec failure at the RPC-error level (distinct
// from envelope.SerializationError, which is the lower-level codec error
// this wraps).
func SerializationErr(err error) *Error {
	return &Error{Code: CodeSerializationError, Message: err.Error(), Err: err}
}

// ConnectionErr reports a transport-level failure surfaced to a caller.
func ConnectionErr(err error) *Error {
	return &Error{Code: CodeConnectionError, Message: err.Error(), Err: err}
}

// ErrDisposed is returned by Client.SendRequest, SendRequestAs and
// SendNotification, and by Server.StartListening, once the instance has
// been disposed; calls cancelled by Client.Dispose wrap it. It is not part
// of the wire taxonomy and is never sent over the wire.
var ErrDisposed = fmt.Errorf("rpc: disposed")

// ErrArgument is raised when a caller supplies an empty channel or method
// name, before anything is published.
type ErrArgument struct {
	Field string
}

func (e *ErrArgument) Error() string {
	return fmt.Sprintf("rpc: %s must not be empty", e.Field)
}
