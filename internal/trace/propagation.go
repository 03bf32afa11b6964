package trace

import (
	"fmt"
	"strings"
)

// W3CHeader renders the traceparent header value for outbound federation
// HTTP calls: "00-{traceId}-{spanId}-{flags}".
func W3CHeader(tc *TraceContext) string {
	if tc == nil {
		return ""
	}
	flags := "00"
	if tc.Sampled {
		flags = "01"
	}
	return fmt.Sprintf("00-%s-%s-%s", padID(tc.TraceID, 32), padID(tc.SpanID, 16), flags)
}

func padID(id string, n int) string {
	if len(id) >= n {
		return id[:n]
	}
	return id + strings.Repeat("0", n-len(id))
}

// ParseW3CHeader parses a traceparent header into a TraceContext. It
// returns ok=false for malformed headers so the caller can fall back to
// starting a fresh root.
func ParseW3CHeader(h string) (tc TraceContext, ok bool) {
	parts := strings.Split(h, "-")
	if len(parts) != 4 || parts[0] != "00" {
		return TraceContext{}, false
	}
	if len(parts[1]) != 32 || len(parts[2]) != 16 {
		return TraceContext{}, false
	}
	tc = TraceContext{
		TraceID: parts[1],
		SpanID:  parts[2],
		Sampled: parts[3] == "01",
	}
	return tc, true
}

// InjectPayload adds traceId/spanId/parentSpanId fields to an outbound
// JSON-serializable payload map for peer-to-peer messages that don't go
// over HTTP (and thus have no header to carry the context).
func InjectPayload(payload map[string]any, tc *TraceContext) {
	if payload == nil || tc == nil {
		return
	}
	payload["traceId"] = tc.TraceID
	payload["spanId"] = tc.SpanID
	if tc.ParentSpanID != "" {
		payload["parentSpanId"] = tc.ParentSpanID
	}
}

// ExtractPayload reads traceId/x-trace-id/trace_id (in that order of
// preference) from an inbound payload and generates a fresh child spanId.
// If none of the keys are present it returns ok=false.
func ExtractPayload(payload map[string]any) (tc TraceContext, ok bool) {
	traceID, found := firstString(payload, "traceId", "x-trace-id", "trace_id")
	if !found {
		return TraceContext{}, false
	}
	parentSpanID, _ := firstString(payload, "spanId", "span_id")
	return TraceContext{
		TraceID:      traceID,
		SpanID:       newHexID(8),
		ParentSpanID: parentSpanID,
		Sampled:      true,
	}, true
}

func firstString(payload map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
