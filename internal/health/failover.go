package health

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
)

// PlanStatus is a FailoverPlan's lifecycle position.
type PlanStatus string

const (
	PlanPlanned   PlanStatus = "planned"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanTimeout   PlanStatus = "timeout"
)

// Assignment pairs a migrating session with its target node.
type Assignment struct {
	SessionID string
	TargetID  string
	Done      bool
	Failed    bool
	Err       error
}

// FailoverPlan tracks the migration of every session owned by a node
// declared dead to a new target node.
type FailoverPlan struct {
	ID        string
	NodeID    string
	Status    PlanStatus
	CreatedAt time.Time
	Deadline  time.Time

	mu          sync.Mutex
	assignments map[string]*Assignment
	completed   int
	failed      int
}

// PlanTracker enforces "at most one active plan per node" and owns
// every FailoverPlan's lifecycle.
type PlanTracker struct {
	mu    sync.Mutex
	plans map[string]*FailoverPlan // nodeID -> active plan
}

func NewPlanTracker() *PlanTracker {
	return &PlanTracker{plans: make(map[string]*FailoverPlan)}
}

// Open creates a new plan for nodeID, assigning each session a target
// via assign. Returns nil if a plan for nodeID is already active.
func (t *PlanTracker) Open(nodeID string, sessionIDs []string, assign func(sessionID string) string, ttl time.Duration) *FailoverPlan {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, active := t.plans[nodeID]; active {
		return nil
	}
	now := time.Now()
	plan := &FailoverPlan{
		ID:          xid.New().String(),
		NodeID:      nodeID,
		Status:      PlanPlanned,
		CreatedAt:   now,
		Deadline:    now.Add(ttl),
		assignments: make(map[string]*Assignment, len(sessionIDs)),
	}
	for _, sid := range sessionIDs {
		plan.assignments[sid] = &Assignment{SessionID: sid, TargetID: assign(sid)}
	}
	plan.Status = PlanExecuting
	t.plans[nodeID] = plan
	return plan
}

// Active returns the active plan for nodeID, if any.
func (t *PlanTracker) Active(nodeID string) (*FailoverPlan, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.plans[nodeID]
	return p, ok
}

// ReportMigration records one session's migration outcome. When every
// session has reported, the plan transitions to completed or failed and
// is cleared from the tracker.
func (t *PlanTracker) ReportMigration(plan *FailoverPlan, sessionID string, err error) error {
	plan.mu.Lock()
	a, ok := plan.assignments[sessionID]
	if !ok {
		plan.mu.Unlock()
		return errUnknownSession(sessionID)
	}
	a.Done = true
	a.Failed = err != nil
	a.Err = err
	if err != nil {
		plan.failed++
	} else {
		plan.completed++
	}
	total := plan.completed + plan.failed
	resolved := total >= len(plan.assignments)
	if resolved {
		if plan.failed > 0 {
			plan.Status = PlanFailed
		} else {
			plan.Status = PlanCompleted
		}
	}
	plan.mu.Unlock()

	if resolved {
		t.clear(plan.NodeID)
	}
	return nil
}

// FailureSummary combines every failed assignment's error into one
// *multierror.Error, for surfacing a single diagnostic when a plan ends
// in PlanFailed. Returns nil if nothing failed.
func (p *FailoverPlan) FailureSummary() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result *multierror.Error
	for _, a := range p.assignments {
		if a.Failed && a.Err != nil {
			result = multierror.Append(result, a.Err)
		}
	}
	return result.ErrorOrNil()
}

// SweepTimeouts transitions any plan past its deadline to timeout and
// clears it from the tracker.
func (t *PlanTracker) SweepTimeouts(now time.Time) []string {
	t.mu.Lock()
	var timedOut []string
	for nodeID, plan := range t.plans {
		plan.mu.Lock()
		expired := now.After(plan.Deadline) && plan.Status == PlanExecuting
		if expired {
			plan.Status = PlanTimeout
		}
		plan.mu.Unlock()
		if expired {
			timedOut = append(timedOut, nodeID)
		}
	}
	for _, nodeID := range timedOut {
		delete(t.plans, nodeID)
	}
	t.mu.Unlock()
	return timedOut
}

func (t *PlanTracker) clear(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.plans, nodeID)
}

type errUnknownSessionErr string

func (e errUnknownSessionErr) Error() string { return "unknown session " + string(e) }

func errUnknownSession(sessionID string) error { return errUnknownSessionErr(sessionID) }
