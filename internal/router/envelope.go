package router

import (
	"bytes"
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/relayhub/orchestratord/internal/codec"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            false,
	ValidateJsonRawMessage: true,
}.Froze()

// Format identifies which wire envelope an inbound message used, so the
// router can reply in the same shape. Internal handlers never see
// anything but the native v2 codec.Frame.
type Format string

const (
	FormatNative   Format = "native-v2"
	FormatJSONRPC2 Format = "jsonrpc-2.0"
	FormatLegacyV1 Format = "legacy-v1"
)

// jsonrpcRequest is the subset of JSON-RPC 2.0 this layer accepts.
type jsonrpcRequest struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      stdjson.RawMessage `json:"id,omitempty"`
	Method  string             `json:"method"`
	Params  stdjson.RawMessage `json:"params,omitempty"`
}

// legacyV1Request is the pre-v2 envelope: a flat {action, requestId,
// payload} object with no "type" or "jsonrpc" discriminator.
type legacyV1Request struct {
	Action    string             `json:"action"`
	RequestID string             `json:"requestId"`
	Payload   stdjson.RawMessage `json:"payload"`
}

// DetectFormat sniffs an inbound message's top-level shape without fully
// decoding it, so batch detection and size checks run before the more
// expensive per-format decode.
func DetectFormat(raw []byte) Format {
	var probe struct {
		Type    string `json:"type"`
		JSONRPC string `json:"jsonrpc"`
		Action  string `json:"action"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return FormatNative
	}
	switch {
	case probe.JSONRPC == "2.0":
		return FormatJSONRPC2
	case probe.Type != "":
		return FormatNative
	case probe.Action != "":
		return FormatLegacyV1
	default:
		return FormatNative
	}
}

// ToNativeFrame translates a single decoded element of the given format
// into a native v2 request Frame the rpc handler understands. The
// returned rawID is the untouched JSON-RPC 2.0 "id" member (number,
// string, or null) and is nil for every other format; callers must
// thread it back into FromNativeFrame so a numeric id round-trips as a
// number rather than being coerced to a string.
func ToNativeFrame(raw []byte, format Format) (frame codec.Frame, rawID stdjson.RawMessage, err error) {
	switch format {
	case FormatJSONRPC2:
		var req jsonrpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return codec.Frame{}, nil, err
		}
		return codec.Frame{
			Type:   codec.TypeRequest,
			ID:     jsonIDToString(req.ID),
			Method: req.Method,
			Params: stdjson.RawMessage(req.Params),
		}, req.ID, nil
	case FormatLegacyV1:
		var req legacyV1Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return codec.Frame{}, nil, err
		}
		return codec.Frame{
			Type:   codec.TypeRequest,
			ID:     req.RequestID,
			Method: req.Action,
			Params: stdjson.RawMessage(req.Payload),
		}, nil, nil
	default:
		var f codec.Frame
		err := json.Unmarshal(raw, &f)
		return f, nil, err
	}
}

// jsonIDToString derives an opaque routing key from a JSON-RPC id member
// for internal use (rate limiting, logging); the exact wire
// representation is preserved separately via rawID.
func jsonIDToString(raw stdjson.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// FromNativeFrame renders a native v2 response/event Frame back into the
// envelope shape the request arrived in. rawID is the JSON-RPC id
// captured by ToNativeFrame and is ignored for every other format; pass
// nil when no translation happened (native traffic, or a frame that
// never reached ToNativeFrame).
func FromNativeFrame(f codec.Frame, format Format, rawID stdjson.RawMessage) ([]byte, error) {
	switch format {
	case FormatJSONRPC2:
		out := map[string]any{"jsonrpc": "2.0", "id": jsonrpcResponseID(rawID, f.ID)}
		if f.Error != nil {
			out["error"] = map[string]any{"code": f.Error.Code, "message": f.Error.Message, "data": f.Error.Data}
		} else {
			out["result"] = f.Payload
		}
		return json.Marshal(out)
	case FormatLegacyV1:
		out := map[string]any{"requestId": f.ID, "ok": f.OK}
		if f.Error != nil {
			out["error"] = f.Error
		} else {
			out["payload"] = f.Payload
		}
		return json.Marshal(out)
	default:
		return json.Marshal(f)
	}
}

// jsonrpcResponseID prefers the original raw id bytes (preserving
// number/string/null type) and falls back to the native Frame's string
// id when no raw id was captured.
func jsonrpcResponseID(rawID stdjson.RawMessage, fallback string) any {
	if rawID != nil {
		return rawID
	}
	return rawOrNull(fallback)
}

func rawOrNull(id string) any {
	if id == "" {
		return nil
	}
	return id
}
