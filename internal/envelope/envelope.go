// Package envelope defines the two wire envelopes exchanged between RPC
// clients and servers — Request and Response — and the codec that moves
// them to and from JSON bytes.
//
// Both envelopes are immutable once built: callers fill in the fields at
// construction time and nothing in this package mutates them afterwards.
// Parameters and Result are carried as json.RawMessage so decoding never
// commits to a concrete Go type — callers coerce into whatever shape they
// need via CoerceResult, at the last possible moment.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is the envelope a client publishes to invoke a method on a
// server. ResponseChannel is empty iff this is a notification.
type Request struct {
	ID              string          `json:"id"`
	Method          string          `json:"method"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	ResponseChannel string          `json:"responseChannel"`
	Timestamp       string          `json:"timestamp"`
	TimeoutMs       *int64          `json:"timeoutMs,omitempty"`
}

// IsNotification reports whether this request expects no response.
func (r *Request) IsNotification() bool {
	return r.ResponseChannel == ""
}

// ResponseError is the wire shape of a failed Response's error field.
type ResponseError struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
	StackTrace string          `json:"stackTrace,omitempty"`
}

// Response is the envelope a server publishes back to the client's
// response channel once a handler has run (or failed).
type Response struct {
	ID        string          `json:"id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ResponseError  `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewRequest builds a Request with a fresh timestamp, marshaling params to
// its raw-JSON carrier form. A nil params value encodes as JSON null.
func NewRequest(id, method string, params any, responseChannel string, timeoutMs *int64) (*Request, error) {
	raw, err := marshalParam(params)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal parameters: %w", err)
	}
	return &Request{
		ID:              id,
		Method:          method,
		Parameters:      raw,
		ResponseChannel: responseChannel,
		Timestamp:       nowISO8601(),
		TimeoutMs:       timeoutMs,
	}, nil
}

// NewSuccessResponse builds a successful Response envelope for the given
// request id.
func NewSuccessResponse(id string, result any) (*Response, error) {
	raw, err := marshalParam(result)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal result: %w", err)
	}
	return &Response{
		ID:        id,
		Success:   true,
		Result:    raw,
		Timestamp: nowISO8601(),
	}, nil
}

// NewErrorResponse builds a failed Response envelope for the given request
// id and error detail.
func NewErrorResponse(id string, errDetail ResponseError) *Response {
	return &Response{
		ID:        id,
		Success:   false,
		Error:     &errDetail,
		Timestamp: nowISO8601(),
	}
}

func marshalParam(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// EncodeRequest serializes a Request to its wire bytes.
func EncodeRequest(r *Request) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, &SerializationError{Op: "encode request", Err: err}
	}
	return b, nil
}

// DecodeRequest parses wire bytes into a Request. Unknown fields are
// ignored by encoding/json's default behavior.
func DecodeRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &SerializationError{Op: "decode request", Err: err}
	}
	return &r, nil
}

// EncodeResponse serializes a Response to its wire bytes.
func EncodeResponse(r *Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, &SerializationError{Op: "encode response", Err: err}
	}
	return b, nil
}

// DecodeResponse parses wire bytes into a Response.
func DecodeResponse(data []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &SerializationError{Op: "decode response", Err: err}
	}
	return &r, nil
}

// CoerceResult decodes raw into target, which must be a non-nil pointer.
// Primitive pointer kinds are unmarshaled directly; everything else
// round-trips through json.Unmarshal the same way, since encoding/json
// already gives primitives and complex types the same direct-accessor
// behavior once target is a concrete pointer.
func CoerceResult(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return &SerializationError{Op: "coerce result", Err: err}
	}
	return nil
}

// SerializationError wraps a codec failure. It is distinct from the rpc
// package's error taxonomy because it can occur before any Request/Response
// id is known.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("envelope: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
