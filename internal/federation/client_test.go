package federation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayhub/orchestratord/internal/health"
	"github.com/relayhub/orchestratord/internal/trace"
	"github.com/rs/zerolog"
)

type fakeTransport struct {
	failTimes int32
	calls     int32
	lastPayload map[string]any
}

func (f *fakeTransport) Send(ctx context.Context, nodeID string, payload map[string]any) (map[string]any, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastPayload = payload
	if atomic.LoadInt32(&f.calls) <= atomic.LoadInt32(&f.failTimes) {
		return nil, context.DeadlineExceeded
	}
	return map[string]any{"ok": true, "node": nodeID}, nil
}

func newGate(t *testing.T) (*health.Monitor, func()) {
	t.Helper()
	m := health.NewMonitor(health.DefaultConfig(), noopProber{}, zerolog.Nop())
	if err := m.RegisterNode(health.NodeConfig{NodeID: "n1"}); err != nil {
		t.Fatal(err)
	}
	return m, func() {}
}

type noopProber struct{}

func (noopProber) Probe(ctx context.Context, nodeID string, kind health.ProbeKind) error { return nil }

func TestDelegateSucceedsFirstTry(t *testing.T) {
	m, cleanup := newGate(t)
	defer cleanup()
	transport := &fakeTransport{}
	c := New(DefaultConfig(), transport, m)

	resp, err := c.Delegate(context.Background(), "n1", map[string]any{"method": "health.ping"}, &trace.TraceContext{TraceID: "t1", SpanID: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["node"] != "n1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if transport.lastPayload["traceId"] != "t1" {
		t.Fatalf("expected trace context injected into payload, got %v", transport.lastPayload)
	}
}

func TestDelegateRetriesThenSucceeds(t *testing.T) {
	m, cleanup := newGate(t)
	defer cleanup()
	transport := &fakeTransport{failTimes: 2}
	c := New(Config{MaxElapsedTime: time.Second, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, transport, m)

	resp, err := c.Delegate(context.Background(), "n1", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp["ok"] != true {
		t.Fatalf("unexpected response: %v", resp)
	}
	if transport.calls != 3 {
		t.Fatalf("expected 3 calls (2 failures + success), got %d", transport.calls)
	}
}

func TestDelegateRejectsUnavailableNode(t *testing.T) {
	m := health.NewMonitor(health.DefaultConfig(), noopProber{}, zerolog.Nop())
	// n1 never registered: IsNodeAvailable returns false.
	transport := &fakeTransport{}
	c := New(DefaultConfig(), transport, m)

	_, err := c.Delegate(context.Background(), "n1", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected error for unavailable node")
	}
	if transport.calls != 0 {
		t.Fatalf("expected transport never invoked, got %d calls", transport.calls)
	}
}

func TestDelegateReportsBreakerOnExhaustedRetries(t *testing.T) {
	m, cleanup := newGate(t)
	defer cleanup()
	transport := &fakeTransport{failTimes: 100}
	c := New(Config{MaxElapsedTime: 20 * time.Millisecond, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, transport, m)

	// Each exhausted Delegate reports one failure; the default breaker opens
	// once it holds MinSamples samples at or above the 0.5 error-rate threshold.
	for i := 0; i < health.DefaultBreakerConfig().MinSamples; i++ {
		_, err := c.Delegate(context.Background(), "n1", map[string]any{}, nil)
		if err == nil {
			t.Fatal("expected error after exhausting retries")
		}
	}
	breaker, ok := m.Breaker("n1")
	if !ok {
		t.Fatal("expected breaker present")
	}
	if breaker.State() != health.BreakerOpen {
		t.Fatalf("expected breaker opened by reported failures, got %s", breaker.State())
	}
}
