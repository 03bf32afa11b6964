// Package codec translates between wire bytes and typed protocol v2
// frames: UTF-8 JSON text frames (optionally gzip/deflate compressed) and
// the fixed-header binary format used for opaque payloads.
package codec

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// FrameType discriminates the tagged Frame variant.
type FrameType string

const (
	TypeRequest  FrameType = "req"
	TypeResponse FrameType = "res"
	TypeEvent    FrameType = "event"
)

// Frame is the native v2 wire envelope. Only the fields relevant to the
// frame's Type are populated; unused fields are omitted on encode.
type Frame struct {
	Type FrameType `json:"type"`

	// Request
	ID     string             `json:"id,omitempty"`
	Method string             `json:"method,omitempty"`
	Params stdjson.RawMessage `json:"params,omitempty"`

	// Response
	OK      bool               `json:"ok,omitempty"`
	Payload stdjson.RawMessage `json:"payload,omitempty"`
	Error   *FrameError        `json:"error,omitempty"`

	// Event
	Event   string              `json:"event,omitempty"`
	Seq     *int64              `json:"seq,omitempty"`
}

// FrameError is the error shape embedded in a Response frame.
type FrameError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Diag is a per-index batch decode diagnostic: "batch[i]: <reason>".
type Diag struct {
	Index  int
	Reason string
}

func (d Diag) Error() string {
	return d.Reason
}
