package subscription

import (
	"sync"
	"testing"
)

type fakeSink struct {
	mu        sync.Mutex
	delivered map[string][]Event
	fail      map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{delivered: make(map[string][]Event), fail: make(map[string]bool)}
}

func (s *fakeSink) Deliver(connID string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[connID] {
		return errOverflow
	}
	s.delivered[connID] = append(s.delivered[connID], ev)
	return nil
}

var errOverflow = &overflowErr{}

type overflowErr struct{}

func (*overflowErr) Error() string { return "send buffer overflow" }

func TestSubscribeDispatchMatch(t *testing.T) {
	sink := newFakeSink()
	m := New(sink)

	subID, err := m.Subscribe("conn1", "session.*.status", nil)
	if err != nil {
		t.Fatal(err)
	}
	if subID == "" {
		t.Fatal("expected non-empty subscription id")
	}

	m.Dispatch("session.abc.status", map[string]any{"state": "running"})
	m.Dispatch("prompt.submit", nil) // should not match

	if len(sink.delivered["conn1"]) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(sink.delivered["conn1"]))
	}
}

func TestDuplicatePatternGetsDistinctIDs(t *testing.T) {
	sink := newFakeSink()
	m := New(sink)
	a, _ := m.Subscribe("conn1", "x.y", nil)
	b, _ := m.Subscribe("conn1", "x.y", nil)
	if a == b {
		t.Fatal("expected distinct subscription ids for duplicate pattern")
	}
	subs := m.Subscriptions("conn1")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	sink := newFakeSink()
	m := New(sink)
	subID, _ := m.Subscribe("conn1", "x.y", nil)
	if err := m.Unsubscribe("conn1", subID); err != nil {
		t.Fatal(err)
	}
	m.Dispatch("x.y", nil)
	if len(sink.delivered["conn1"]) != 0 {
		t.Fatal("expected no delivery after unsubscribe")
	}
}

func TestDisconnectDropsAllSubscriptions(t *testing.T) {
	sink := newFakeSink()
	m := New(sink)
	m.Subscribe("conn1", "x.y", nil)
	m.Subscribe("conn1", "a.b", nil)
	m.Disconnect("conn1")
	if len(m.Subscriptions("conn1")) != 0 {
		t.Fatal("expected no subscriptions after disconnect")
	}
}

func TestOrderingWithinSubscription(t *testing.T) {
	sink := newFakeSink()
	m := New(sink)
	m.Subscribe("conn1", "x.**", nil)
	for i := 0; i < 5; i++ {
		m.Dispatch("x.y", i)
	}
	events := sink.delivered["conn1"]
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Payload != i {
			t.Fatalf("event %d out of order: %+v", i, ev)
		}
		if ev.Seq != int64(i+1) {
			t.Fatalf("expected monotonic seq, got %d at index %d", ev.Seq, i)
		}
	}
}

func TestBackpressureDropIsSilentWithSeqGap(t *testing.T) {
	sink := newFakeSink()
	sink.fail["conn1"] = true
	m := New(sink)
	m.Subscribe("conn1", "x.y", nil)
	m.Dispatch("x.y", "dropped")
	sink.fail["conn1"] = false
	m.Dispatch("x.y", "delivered")

	events := sink.delivered["conn1"]
	if len(events) != 1 {
		t.Fatalf("expected 1 delivered event, got %d", len(events))
	}
	if events[0].Seq != 2 {
		t.Fatalf("expected seq to skip the dropped event (want 2), got %d", events[0].Seq)
	}
}
