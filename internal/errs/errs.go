// Package errs provides the structured error type used across the
// protocol v2 runtime. Every error that crosses a connection boundary is
// represented as an *Error carrying one of the stable wire codes from
// section 6 of the protocol spec.
package errs

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// Code is a stable, wire-visible error identifier.
type Code string

const (
	ParseError       Code = "PARSE_ERROR"
	InvalidRequest   Code = "INVALID_REQUEST"
	InvalidParams    Code = "INVALID_PARAMS"
	MethodNotFound   Code = "METHOD_NOT_FOUND"
	AuthRequired     Code = "AUTH_REQUIRED"
	AuthInvalid      Code = "AUTH_INVALID"
	PermissionDenied Code = "PERMISSION_DENIED"
	RateLimited      Code = "RATE_LIMITED"
	PayloadTooLarge  Code = "PAYLOAD_TOO_LARGE"
	Backpressure     Code = "BACKPRESSURE"
	Cancelled        Code = "CANCELLED"
	InternalError    Code = "INTERNAL_ERROR"
)

// Details are returned to the remote caller. Meta is for internal use only
// (logging, federation) and is never serialized across the wire.
type Details map[string]any
type Metadata map[string]any

// Error is the structured error carried in a Response frame's error field.
type Error struct {
	Code    Code     `json:"code"`
	Message string   `json:"message"`
	Details Details  `json:"data,omitempty"`
	Meta    Metadata `json:"-"`

	underlying error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.underlying
}

// New creates an *Error with the given code and message.
func New(code Code, msg string, details ...Details) *Error {
	e := &Error{Code: code, Message: msg}
	for _, d := range details {
		e.merge(d)
	}
	return e
}

// Wrap converts err into an *Error, preserving its code if it is already
// one, or tagging it with code otherwise.
func Wrap(err error, code Code, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		wrapped := *e
		wrapped.underlying = err
		if msg != "" {
			wrapped.Message = msg
		}
		return &wrapped
	}
	return &Error{Code: code, Message: msg, underlying: err}
}

func (e *Error) merge(d Details) *Error {
	if e.Details == nil {
		e.Details = Details{}
	}
	for k, v := range d {
		e.Details[k] = v
	}
	return e
}

// WithRetryAfter attaches data.retryAfterMs, used by RATE_LIMITED.
func (e *Error) WithRetryAfter(ms int64) *Error {
	return e.merge(Details{"retryAfterMs": ms})
}

// WithFieldErrors attaches data.errors[], used by INVALID_PARAMS.
func (e *Error) WithFieldErrors(errs []string) *Error {
	return e.merge(Details{"errors": errs})
}

// MarshalJSON renders the error in the protocol's error envelope shape.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal((*alias)(e))
}
