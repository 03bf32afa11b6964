package trace

import (
	"testing"
	"time"
)

func TestStartRootSampledAlways(t *testing.T) {
	tr := New(Config{Enabled: true, SampleRate: 1, SpanTTL: time.Minute, MaxSpansPerTrace: 10})
	tc, span := tr.StartRoot("router.dispatch")
	if !tc.Sampled {
		t.Fatal("expected sampled root with rate=1")
	}
	if len(tc.TraceID) != 32 {
		t.Fatalf("expected 32 hex char trace id, got %d", len(tc.TraceID))
	}
	tr.End(span, StatusOK)
	spans := tr.CompletedSpans(tc.TraceID)
	if len(spans) != 1 {
		t.Fatalf("expected 1 completed span, got %d", len(spans))
	}
	if spans[0].End.Before(spans[0].Start) {
		t.Fatal("span end must not precede start")
	}
}

func TestStartRootNeverSampled(t *testing.T) {
	tr := New(Config{Enabled: true, SampleRate: 0, SpanTTL: time.Minute, MaxSpansPerTrace: 10})
	tc, span := tr.StartRoot("router.dispatch")
	if tc.Sampled {
		t.Fatal("expected unsampled root with rate=0")
	}
	if tc.TraceID != noopTraceID {
		t.Fatalf("expected noop trace id, got %s", tc.TraceID)
	}
	tr.End(span, StatusOK) // no-op, must not panic
}

func TestChildInheritsSamplingDecision(t *testing.T) {
	tr := New(DefaultConfig())
	root, _ := tr.StartRoot("root")
	child, childSpan := tr.StartChild(root, "child")
	if child.TraceID != root.TraceID {
		t.Fatal("child must share trace id with parent")
	}
	if child.ParentSpanID != root.SpanID {
		t.Fatal("child must record parent span id")
	}
	tr.End(childSpan, StatusOK)
}

func TestSweepExpired(t *testing.T) {
	tr := New(Config{Enabled: true, SampleRate: 1, SpanTTL: time.Millisecond, MaxSpansPerTrace: 10})
	tc, _ := tr.StartRoot("long-op")
	time.Sleep(5 * time.Millisecond)
	n := tr.SweepExpired(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 expired span, got %d", n)
	}
	spans := tr.CompletedSpans(tc.TraceID)
	if len(spans) != 1 || spans[0].Status != StatusError {
		t.Fatalf("expected expired span with error status, got %+v", spans)
	}
	if v := spans[0].Attrs["expired"]; v != true {
		t.Fatalf("expected expired attribute, got %v", spans[0].Attrs)
	}
}

func TestW3CHeaderRoundTrip(t *testing.T) {
	tr := New(DefaultConfig())
	tc, _ := tr.StartRoot("outbound")
	hdr := W3CHeader(tc)
	parsed, ok := ParseW3CHeader(hdr)
	if !ok {
		t.Fatalf("failed to parse header %q", hdr)
	}
	if parsed.TraceID != tc.TraceID || parsed.SpanID != tc.SpanID {
		t.Fatalf("round trip mismatch: %+v vs %+v", parsed, tc)
	}
}

func TestExtractPayloadFallbackKeys(t *testing.T) {
	payload := map[string]any{"trace_id": "abc123"}
	tc, ok := ExtractPayload(payload)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if tc.TraceID != "abc123" {
		t.Fatalf("expected trace id abc123, got %s", tc.TraceID)
	}
	if tc.SpanID == "" {
		t.Fatal("expected a freshly generated span id")
	}
}
