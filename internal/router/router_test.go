package router

import (
	"context"
	stdjson "encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/codec"
	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/ratelimit"
	"github.com/relayhub/orchestratord/internal/registry"
	"github.com/relayhub/orchestratord/internal/subscription"
	"github.com/relayhub/orchestratord/internal/trace"
)

// recordingWriter captures every message written to it, standing in for
// the real transport during router tests.
type recordingWriter struct {
	messages [][]byte
	closed   bool
}

func (w *recordingWriter) WriteMessage(b []byte) error {
	w.messages = append(w.messages, append([]byte(nil), b...))
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

type fakeInvoker struct {
	result any
	err    *errs.Error
}

func (f *fakeInvoker) Invoke(ctx registry.HandlerContext, method string, params []byte) (any, *errs.Error) {
	if method == "health.ping" {
		return "pong", nil
	}
	return f.result, f.err
}

func newTestRouter(t *testing.T, inv Invoker) (*Router, *Hub) {
	t.Helper()
	c := codec.New(codec.DefaultConfig())
	hub := NewHub(c)
	subs := subscription.New(hub)
	rl := ratelimit.New(ratelimit.Config{MaxTokens: 1000, RefillRatePerSecond: 1000, DefaultCost: 1})
	a := auth.New(auth.Config{Mode: auth.ModeLoopbackBypass, AllowLoopback: true})
	tr := trace.New(trace.DefaultConfig())
	return New(c, a, rl, inv, subs, tr, hub, zerolog.Nop()), hub
}

func mustAccept(t *testing.T, r *Router) (*Connection, *recordingWriter) {
	t.Helper()
	w := &recordingWriter{}
	conn := NewConnection("127.0.0.1:9999", w)
	ok, _ := r.Accept(conn, auth.Handshake{RemoteAddr: "127.0.0.1:9999"})
	if !ok {
		t.Fatal("expected loopback accept to succeed")
	}
	return conn, w
}

func TestAcceptLoopbackReady(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)
	if conn.State() != StateReady {
		t.Fatalf("expected ready state, got %s", conn.State())
	}
}

func TestHandleTextSingleFrame(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)

	raw := []byte(`{"type":"req","id":"a","method":"health.ping"}`)
	out, reason, fatal := r.HandleText(context.Background(), conn, raw)
	if fatal || reason != "" {
		t.Fatalf("unexpected fatal=%v reason=%s", fatal, reason)
	}
	var resp codec.Frame
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.OK || resp.ID != "a" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

// TestHandleTextJSONRPC2Compat exercises the JSON-RPC 2.0 compat envelope:
// a numeric id must dispatch correctly and round-trip as a number, not a
// string.
func TestHandleTextJSONRPC2Compat(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"health.ping"}`)
	out, reason, fatal := r.HandleText(context.Background(), conn, raw)
	if fatal || reason != "" {
		t.Fatalf("unexpected fatal=%v reason=%s", fatal, reason)
	}

	var resp struct {
		JSONRPC string             `json:"jsonrpc"`
		ID      stdjson.RawMessage `json:"id"`
		Result  string             `json:"result"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.JSONRPC != "2.0" {
		t.Fatalf("expected jsonrpc 2.0 envelope, got %+v", resp)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("expected numeric id 1 preserved, got %s", resp.ID)
	}
	if resp.Result != "pong" {
		t.Fatalf("expected dispatched result pong, got %+v", resp)
	}
}

// TestHandleTextLegacyV1Compat exercises the pre-v2 {action,requestId,
// payload} envelope.
func TestHandleTextLegacyV1Compat(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)

	raw := []byte(`{"action":"health.ping","requestId":"req-1"}`)
	out, reason, fatal := r.HandleText(context.Background(), conn, raw)
	if fatal || reason != "" {
		t.Fatalf("unexpected fatal=%v reason=%s", fatal, reason)
	}

	var resp struct {
		RequestID string `json:"requestId"`
		OK        bool   `json:"ok"`
		Payload   string `json:"payload"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RequestID != "req-1" || !resp.OK || resp.Payload != "pong" {
		t.Fatalf("unexpected legacy v1 response: %+v", resp)
	}
}

// TestHandleTextBatchWithOneInvalid exercises the batch-with-partial-error
// shape: two valid health.ping calls and one malformed element.
func TestHandleTextBatchWithOneInvalid(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)

	raw := []byte(`[{"type":"req","id":"a","method":"health.ping"},{"type":"garbage"},{"type":"req","id":"b","method":"health.ping"}]`)
	out, _, fatal := r.HandleText(context.Background(), conn, raw)
	if fatal {
		t.Fatal("unexpected fatal")
	}
	var frames []codec.Frame
	if err := json.Unmarshal(out, &frames); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(frames))
	}
	okCount := 0
	errCount := 0
	for _, f := range frames {
		if f.OK {
			okCount++
		} else {
			errCount++
		}
	}
	if okCount != 2 || errCount != 1 {
		t.Fatalf("expected 2 ok + 1 error, got ok=%d err=%d", okCount, errCount)
	}
}

func TestHandleTextExceedsSizeLimit(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)
	r.codec = codec.New(codec.Config{MessageSizeLimit: 4})

	_, reason, fatal := r.HandleText(context.Background(), conn, []byte(`{"type":"req"}`))
	if !fatal || reason != errs.PayloadTooLarge {
		t.Fatalf("expected fatal PAYLOAD_TOO_LARGE, got fatal=%v reason=%s", fatal, reason)
	}
}

func TestDispatchFrameRateLimited(t *testing.T) {
	r, _ := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)
	r.limiter = ratelimit.New(ratelimit.Config{MaxTokens: 1, RefillRatePerSecond: 0, DefaultCost: 1})

	f := codec.Frame{Type: codec.TypeRequest, ID: "a", Method: "health.ping"}
	resp1 := r.dispatchFrame(context.Background(), conn, f)
	if !resp1.OK {
		t.Fatalf("expected first call allowed, got %+v", resp1)
	}
	resp2 := r.dispatchFrame(context.Background(), conn, f)
	if resp2.OK || resp2.Error == nil || resp2.Error.Code != string(errs.RateLimited) {
		t.Fatalf("expected RATE_LIMITED, got %+v", resp2)
	}
}

func TestDisconnectReleasesResources(t *testing.T) {
	r, hub := newTestRouter(t, &fakeInvoker{})
	conn, _ := mustAccept(t, r)
	r.Disconnect(conn)
	if _, ok := hub.Get(conn.ID); ok {
		t.Fatal("expected connection removed from hub")
	}
	if conn.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", conn.State())
	}
}

func TestAcceptRejectsMissingCredentials(t *testing.T) {
	c := codec.New(codec.DefaultConfig())
	hub := NewHub(c)
	subs := subscription.New(hub)
	rl := ratelimit.New(ratelimit.DefaultConfig())
	a := auth.New(auth.Config{Mode: auth.ModeJWTOnly})
	tr := trace.New(trace.DefaultConfig())
	r := New(c, a, rl, &fakeInvoker{}, subs, tr, hub, zerolog.Nop())

	w := &recordingWriter{}
	conn := NewConnection("203.0.113.1:1", w)
	ok, failFrame := r.Accept(conn, auth.Handshake{RemoteAddr: "203.0.113.1:1"})
	if ok {
		t.Fatal("expected accept to fail without credentials")
	}
	if len(failFrame) == 0 {
		t.Fatal("expected a failure frame")
	}
	if conn.State() != StateClosing {
		t.Fatalf("expected closing state, got %s", conn.State())
	}
}
