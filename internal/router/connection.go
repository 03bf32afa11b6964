// Package router owns the per-connection state machine that sits above
// the codec, authenticator, rate limiter, and rpc handler: it is the
// orchestrating core described in SPEC_FULL.md §4.6.
package router

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/relayhub/orchestratord/internal/registry"
)

// State is a connection's position in the CONNECTING/READY/CLOSING/CLOSED
// state machine.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// DefaultMaxBufferedBytes bounds a connection's outbound queue before the
// router drops it for backpressure.
const DefaultMaxBufferedBytes = 8 << 20 // 8 MiB

// Writer abstracts the transport's outbound path so this package never
// imports gorilla/websocket directly; internal/transport supplies the
// concrete implementation.
type Writer interface {
	WriteMessage(b []byte) error
	Close() error
}

// Connection is the router's exclusive view of one client connection:
// identity, subscriptions (tracked by id in the subscription manager),
// last activity, and an outbound buffered-bytes counter.
type Connection struct {
	ID         string
	RemoteAddr string
	CreatedAt  time.Time

	writer Writer

	mu           sync.Mutex
	state        State
	identity     registry.Identity
	lastActivity time.Time
	bufferedBytes int64
	maxBuffered   int64

	// inflight correlates binary frame chunks to the request that opened
	// the stream, keyed by correlationId.
	inflight map[string]*streamBuffer
}

type streamBuffer struct {
	data  []byte
	final bool
}

func NewConnection(remoteAddr string, w Writer) *Connection {
	return &Connection{
		ID:           xid.New().String(),
		RemoteAddr:   remoteAddr,
		CreatedAt:    time.Now(),
		writer:       w,
		state:        StateConnecting,
		lastActivity: time.Now(),
		maxBuffered:  DefaultMaxBufferedBytes,
		inflight:     make(map[string]*streamBuffer),
	}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Connection) Identity() registry.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Connection) SetIdentity(id registry.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
}

// Enqueue writes b to the transport, tracking buffered bytes. It returns
// ErrBackpressure if doing so would exceed the connection's configured
// MAX_BUFFERED_BYTES, without writing b. Enqueue never closes the
// connection, and neither do its callers in this package.
func (c *Connection) Enqueue(b []byte) error {
	c.mu.Lock()
	if c.bufferedBytes+int64(len(b)) > c.maxBuffered {
		c.mu.Unlock()
		return ErrBackpressure
	}
	c.bufferedBytes += int64(len(b))
	c.mu.Unlock()

	err := c.writer.WriteMessage(b)

	c.mu.Lock()
	c.bufferedBytes -= int64(len(b))
	c.mu.Unlock()

	return err
}

func (c *Connection) BufferedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferedBytes
}

func (c *Connection) Close() error {
	c.setState(StateClosed)
	return c.writer.Close()
}

func (c *Connection) openStream(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[correlationID] == nil {
		c.inflight[correlationID] = &streamBuffer{}
	}
}

// appendChunk appends payload to the stream identified by correlationID
// and reports the cumulative buffer once final is set.
func (c *Connection) appendChunk(correlationID string, payload []byte, final bool) (data []byte, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sb, ok := c.inflight[correlationID]
	if !ok {
		sb = &streamBuffer{}
		c.inflight[correlationID] = sb
	}
	sb.data = append(sb.data, payload...)
	if final {
		delete(c.inflight, correlationID)
		return sb.data, true
	}
	return nil, false
}
