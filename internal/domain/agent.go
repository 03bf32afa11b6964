package domain

import (
	"time"

	"github.com/rs/xid"
)

type AgentStatus string

const (
	AgentSpawning AgentStatus = "spawning"
	AgentRunning  AgentStatus = "running"
	AgentStopped  AgentStatus = "stopped"
)

type Agent struct {
	ID        string
	SessionID string
	Kind      string
	Status    AgentStatus
	SpawnedAt time.Time
}

func (s *Store) SpawnAgent(sessionID, kind string) *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &Agent{ID: xid.New().String(), SessionID: sessionID, Kind: kind, Status: AgentSpawning, SpawnedAt: time.Now()}
	s.agents[a.ID] = a
	return a
}

func (s *Store) Agent(id string) (*Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	return a, ok
}

func (s *Store) StopAgent(id string) (*Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, false
	}
	a.Status = AgentStopped
	return a, true
}

// ToolRequest tracks one tool-invocation awaiting client approval,
// surfaced to a client via subscription events and resolved by
// tool.approve / tool.deny.
type ToolRequest struct {
	ID        string
	SessionID string
	Tool      string
	Approved  bool
	Resolved  bool
}

func (s *Store) RequestTool(sessionID, tool string) *ToolRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &ToolRequest{ID: xid.New().String(), SessionID: sessionID, Tool: tool}
	s.toolReqs[r.ID] = r
	return r
}

func (s *Store) ResolveTool(id string, approve bool) (*ToolRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.toolReqs[id]
	if !ok {
		return nil, false
	}
	r.Approved = approve
	r.Resolved = true
	return r, true
}
