// Package domain holds the volatile in-memory state the RPC method
// catalog operates on: sessions, agents, memory entries, and the
// pending tool-approval queue. None of it survives a daemon restart,
// matching the persistence Non-goal carried from spec.md.
package domain

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionStopped  SessionStatus = "stopped"
	SessionResuming SessionStatus = "resuming"
)

type Session struct {
	ID        string
	ClientID  string
	NodeID    string
	Status    SessionStatus
	CreatedAt time.Time
}

// Store is the shared, mutex-protected domain state behind the method
// catalog's handlers. One Store is constructed per daemon instance and
// handed to every registered handler via a closure.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	agents   map[string]*Agent
	memory   []MemoryEntry
	toolReqs map[string]*ToolRequest
	config   map[string]any
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		agents:   make(map[string]*Agent),
		toolReqs: make(map[string]*ToolRequest),
		config:   make(map[string]any),
	}
}

func (s *Store) CreateSession(clientID, nodeID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := &Session{ID: xid.New().String(), ClientID: clientID, NodeID: nodeID, Status: SessionActive, CreatedAt: time.Now()}
	s.sessions[sess.ID] = sess
	return sess
}

func (s *Store) ResumeSession(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.Status = SessionActive
	return sess, true
}

func (s *Store) StopSession(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.Status = SessionStopped
	return sess, true
}

func (s *Store) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Store) ListSessions(clientID string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if clientID == "" || sess.ClientID == clientID {
			out = append(out, sess)
		}
	}
	return out
}

// SessionsOnNode returns every active session owned by nodeID, used by
// the health monitor to build a failover plan's session list.
func (s *Store) SessionsOnNode(nodeID string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.NodeID == nodeID && sess.Status == SessionActive {
			out = append(out, sess)
		}
	}
	return out
}

// MigrateSession reassigns a session to a new node, used when a
// failover plan completes a per-session migration.
func (s *Store) MigrateSession(id, targetNodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.NodeID = targetNodeID
	return true
}
