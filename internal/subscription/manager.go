// Package subscription maintains glob-matched event subscriptions and
// dispatches events to interested connections.
package subscription

import (
	"sync"
	"sync/atomic"

	"github.com/bluele/gcache"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Event is delivered to a subscriber's send path.
type Event struct {
	Name    string
	Payload any
	Seq     int64
}

// Sink is how the manager hands an event to its owning connection. It is
// a weak capability: the manager never touches a connection directly,
// only a connection id plus this indirection, breaking the cyclic
// pointer graph a direct back-reference would create (see SPEC_FULL.md
// §9 design notes).
type Sink interface {
	// Deliver attempts to hand ev to connID's send path. A non-nil error
	// means ev was not handed over (for example the connection's send
	// buffer is over capacity or the connection is gone); the caller
	// (dispatch) treats this as a best-effort drop.
	Deliver(connID string, ev Event) error
}

// Filter is an optional predicate narrowing which payloads a
// subscription actually wants, evaluated after the glob matches.
type Filter func(payload any) bool

type subEntry struct {
	connID  string
	subID   string
	glob    *CompiledGlob
	filter  Filter
	seq     atomic.Int64
}

// Manager maintains the set of (connectionId, subscriptionId, glob,
// filter) tuples and dispatches events to matching subscribers in the
// order it observed them.
type Manager struct {
	sink Sink

	globCache gcache.Cache // raw pattern -> *CompiledGlob

	mu            sync.RWMutex
	byConn        map[string]map[string]*subEntry // connID -> subID -> entry
	all           map[string]*subEntry             // subID -> entry, for O(1) unsubscribe by id alone
}

func New(sink Sink) *Manager {
	m := &Manager{
		sink:   sink,
		byConn: make(map[string]map[string]*subEntry),
		all:    make(map[string]*subEntry),
	}
	m.globCache = gcache.New(512).LRU().LoaderFunc(func(key any) (any, error) {
		return Compile(key.(string))
	}).Build()
	return m
}

// Subscribe compiles pattern (memoized by raw pattern string) and
// registers a new subscription for connID. A duplicate (conn, pattern)
// pair is assigned a distinct subscription id rather than collapsed,
// per SPEC_FULL.md §3.
func (m *Manager) Subscribe(connID, pattern string, filter Filter) (subID string, err error) {
	v, err := m.globCache.Get(pattern)
	if err != nil {
		return "", errors.Wrapf(err, "compile glob %q", pattern)
	}
	glob := v.(*CompiledGlob)

	subID = uuid.NewString()
	entry := &subEntry{connID: connID, subID: subID, glob: glob, filter: filter}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byConn[connID] == nil {
		m.byConn[connID] = make(map[string]*subEntry)
	}
	m.byConn[connID][subID] = entry
	m.all[subID] = entry
	return subID, nil
}

// Unsubscribe removes a single subscription.
func (m *Manager) Unsubscribe(connID, subID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.all[subID]
	if !ok || entry.connID != connID {
		return errors.Newf("unknown subscription %q for connection %q", subID, connID)
	}
	delete(m.all, subID)
	delete(m.byConn[connID], subID)
	if len(m.byConn[connID]) == 0 {
		delete(m.byConn, connID)
	}
	return nil
}

// Disconnect drops every subscription owned by connID. Called when the
// owning connection closes.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for subID := range m.byConn[connID] {
		delete(m.all, subID)
	}
	delete(m.byConn, connID)
}

// Dispatch delivers (eventName, payload) to every matching subscription.
// Delivery is best-effort: a Sink.Deliver failure (backpressure) drops
// that subscriber's copy of this event silently — the dropped sequence
// number is simply skipped, so a subscriber can detect the gap from a
// non-contiguous seq without an explicit marker frame (see SPEC_FULL.md
// §9 Open Questions).
func (m *Manager) Dispatch(eventName string, payload any) {
	m.mu.RLock()
	var matches []*subEntry
	for _, entry := range m.all {
		if entry.glob.Match(eventName) {
			if entry.filter == nil || entry.filter(payload) {
				matches = append(matches, entry)
			}
		}
	}
	m.mu.RUnlock()

	for _, entry := range matches {
		seq := entry.seq.Add(1)
		_ = m.sink.Deliver(entry.connID, Event{Name: eventName, Payload: payload, Seq: seq})
	}
}

// Subscriptions returns a snapshot of subscription ids owned by connID,
// for diagnostics and rpc.discover-style introspection.
func (m *Manager) Subscriptions(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byConn[connID]))
	for id := range m.byConn[connID] {
		out = append(out, id)
	}
	return out
}
