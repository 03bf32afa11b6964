package router

import (
	"sync"

	"github.com/relayhub/orchestratord/internal/codec"
	"github.com/relayhub/orchestratord/internal/subscription"
)

// Hub tracks every live connection and implements subscription.Sink by
// translating a dispatched event into an Event Frame on the owning
// connection's send path. It never holds a back-reference from
// subscription to connection directly, keeping the ownership graph
// acyclic: the manager only ever knows a connection id.
type Hub struct {
	codec *codec.Codec

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewHub(c *codec.Codec) *Hub {
	return &Hub{codec: c, conns: make(map[string]*Connection)}
}

func (h *Hub) Register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
}

func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
}

func (h *Hub) Get(connID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Deliver implements subscription.Sink.
func (h *Hub) Deliver(connID string, ev subscription.Event) error {
	conn, ok := h.Get(connID)
	if !ok {
		return errConnectionGone
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	frame := codec.Frame{Type: codec.TypeEvent, Event: ev.Name, Payload: payload, Seq: &ev.Seq}
	b, err := h.codec.EncodeText(frame)
	if err != nil {
		return err
	}
	return conn.Enqueue(b)
}
