// Package transport wires the router's connection state machine onto a
// real network socket. It is intentionally the only package that
// imports gorilla/websocket: the rest of the runtime talks to
// router.Writer, never to a concrete *websocket.Conn.
package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsWriter adapts a *websocket.Conn to router.Writer. gorilla/websocket
// forbids concurrent writers on one connection, so every WriteMessage
// call is serialized behind writeMu, mirroring the teacher's wsStream
// pattern in cli/daemon/dash/server.go.
type wsWriter struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (w *wsWriter) WriteMessage(b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsWriter) Close() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.Close()
}

// Server upgrades HTTP connections to WebSocket and drives each one
// through the router's Accept/HandleText/HandleBinary/Disconnect cycle.
type Server struct {
	router *router.Router
	log    zerolog.Logger

	readLimit    int64
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func NewServer(r *router.Router, log zerolog.Logger) *Server {
	return &Server{
		router:       r,
		log:          log,
		readLimit:    16 << 20,
		pingInterval: 20 * time.Second,
		pongTimeout:  60 * time.Second,
	}
}

// ServeHTTP upgrades the request and blocks for the lifetime of the
// connection, reading frames and feeding them to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	c, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("transport: websocket upgrade failed")
		return
	}

	writer := &wsWriter{conn: c}
	conn := router.NewConnection(req.RemoteAddr, writer)
	s.log.Debug().Str("connId", conn.ID).Str("remoteAddr", req.RemoteAddr).Msg("transport: connection opened")

	hs := handshakeFromRequest(req)
	ok, failFrame := s.router.Accept(conn, hs)
	if !ok {
		if failFrame != nil {
			_ = writer.WriteMessage(failFrame)
		}
		_ = writer.Close()
		return
	}
	defer func() {
		s.router.Disconnect(conn)
		_ = writer.Close()
		s.log.Debug().Str("connId", conn.ID).Msg("transport: connection closed")
	}()

	c.SetReadLimit(s.readLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.pongTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(writer, stop)

	ctx := req.Context()
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			out, closeReason, fatal := s.router.HandleText(ctx, conn, data)
			if out != nil {
				if werr := writer.WriteMessage(out); werr != nil {
					return
				}
			}
			if fatal {
				s.log.Warn().Str("connId", conn.ID).Str("reason", string(closeReason)).Msg("transport: closing connection")
				return
			}
		case websocket.BinaryMessage:
			if _, _, _, err := s.router.HandleBinary(conn, data); err != nil {
				s.log.Warn().Str("connId", conn.ID).Err(err).Msg("transport: malformed binary frame")
			}
		}
	}
}

// pingLoop sends periodic pings so a half-open TCP connection is
// reclaimed within pongTimeout, matching the interval/timeout pairing
// used by the teacher's redis health-check ticker in
// cli/daemon/redis/redis.go.
func (s *Server) pingLoop(w *wsWriter, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handshakeFromRequest extracts connect-time credentials: the token from
// the Authorization header, falling back to ?token=, and the API key from
// the X-Api-Key header, falling back to ?api_key=.
func handshakeFromRequest(req *http.Request) auth.Handshake {
	hs := auth.Handshake{RemoteAddr: req.RemoteAddr}

	if h := req.Header.Get("Authorization"); h != "" {
		hs.Token = strings.TrimPrefix(h, "Bearer ")
	}
	if hs.Token == "" {
		hs.Token = req.URL.Query().Get("token")
	}

	hs.APIKey = req.Header.Get("X-Api-Key")
	if hs.APIKey == "" {
		hs.APIKey = req.URL.Query().Get("api_key")
	}
	return hs
}
