// Package health runs liveness/readiness/startup probes against
// registered cluster peers, drives a circuit breaker per node, and opens
// failover plans when a node is declared dead.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProbeKind identifies which of the three probe types ran.
type ProbeKind string

const (
	ProbeLiveness  ProbeKind = "liveness"
	ProbeReadiness ProbeKind = "readiness"
	ProbeStartup   ProbeKind = "startup"
)

// Prober runs one probe kind against one node. Implementations live
// outside this package (the actual transport to a peer daemon); a
// non-nil error or a timeout both count as failure.
type Prober interface {
	Probe(ctx context.Context, nodeID string, kind ProbeKind) error
}

// NodeConfig configures one registered node's probe set and optional
// cron-style burst schedule.
type NodeConfig struct {
	NodeID         string
	EnabledProbes  []ProbeKind
	ProbeSchedule  string // optional cron expression; empty uses the flat interval
}

// NodeHealth is the monitor's view of one node.
type NodeHealth struct {
	NodeID               string
	Healthy              bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	CircuitState         BreakerState
	LastProbeAt          time.Time
}

// Listener is notified of state transitions, mirroring the teacher's
// EventListener pattern for run lifecycle notifications.
type Listener interface {
	OnNodeHealthy(nodeID string)
	OnNodeUnhealthy(nodeID string)
	OnNodeRecovered(nodeID string)
	OnNodeDead(nodeID string)
}

// Config controls probe cadence and the failure/success thresholds that
// flip a node's healthy bit.
type Config struct {
	Interval            time.Duration
	ProbeTimeout         time.Duration
	FailureThreshold     int
	SuccessThreshold     int
	Breaker              BreakerConfig
	FailoverEnabled      bool
	SessionMigrationTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:            5 * time.Second,
		ProbeTimeout:         3 * time.Second,
		FailureThreshold:     3,
		SuccessThreshold:     2,
		Breaker:              DefaultBreakerConfig(),
		FailoverEnabled:      true,
		SessionMigrationTTL:  120 * time.Second,
	}
}

// Monitor owns every NodeHealth and CircuitBreaker in the cluster. It
// runs its own ticker loop (teacher style, see cli/daemon/redis.Server)
// started by Run and stopped via context cancellation.
type Monitor struct {
	cfg    Config
	prober Prober
	log    zerolog.Logger

	mu        sync.Mutex
	nodes     map[string]*NodeHealth
	breakers  map[string]*CircuitBreaker
	configs   map[string]NodeConfig
	schedules map[string]cron.Schedule
	nextRun   map[string]time.Time
	listeners []Listener
	plans     *PlanTracker
	sessions  SessionSource

	cronParser cron.Parser
}

func NewMonitor(cfg Config, prober Prober, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		prober:     prober,
		log:        log,
		nodes:      make(map[string]*NodeHealth),
		breakers:   make(map[string]*CircuitBreaker),
		configs:    make(map[string]NodeConfig),
		schedules:  make(map[string]cron.Schedule),
		nextRun:    make(map[string]time.Time),
		plans:      NewPlanTracker(),
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RegisterNode adds a node to the monitored set, initially healthy with
// a closed circuit breaker. A non-empty ProbeSchedule makes the node
// probed on its own cron cadence instead of every flat tick.
func (m *Monitor) RegisterNode(nc NodeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[nc.NodeID] = nc
	m.nodes[nc.NodeID] = &NodeHealth{NodeID: nc.NodeID, Healthy: true, CircuitState: BreakerClosed}
	m.breakers[nc.NodeID] = NewCircuitBreaker(m.cfg.Breaker)

	if nc.ProbeSchedule != "" {
		sched, err := m.cronParser.Parse(nc.ProbeSchedule)
		if err != nil {
			return err
		}
		m.schedules[nc.NodeID] = sched
		m.nextRun[nc.NodeID] = sched.Next(time.Now())
	}
	return nil
}

// UnregisterNode removes a node and its breaker/health state.
func (m *Monitor) UnregisterNode(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeID)
	delete(m.breakers, nodeID)
	delete(m.configs, nodeID)
	delete(m.schedules, nodeID)
	delete(m.nextRun, nodeID)
}

// Node returns a snapshot of one node's health, or false if unregistered.
func (m *Monitor) Node(nodeID string) (NodeHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return NodeHealth{}, false
	}
	return *n, true
}

// IsNodeAvailable reports whether the router may permit a federated
// delegation to nodeID right now: the node must be healthy and its
// breaker must allow the call.
func (m *Monitor) IsNodeAvailable(nodeID string, now time.Time) bool {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	b := m.breakers[nodeID]
	m.mu.Unlock()
	if !ok || b == nil {
		return false
	}
	return n.Healthy && b.Allow(now)
}

// Breaker exposes the node's breaker so a federation client can report
// call outcomes back into it.
func (m *Monitor) Breaker(nodeID string) (*CircuitBreaker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[nodeID]
	return b, ok
}

// Run starts the ticker loop and blocks until ctx is cancelled. Each
// tick fans out probes for every registered node concurrently via
// errgroup, then serially applies the resulting state transitions so no
// observer ever sees an interleaved sequence for one node.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	nodeIDs := make([]string, 0, len(m.configs))
	configs := make([]NodeConfig, 0, len(m.configs))
	for id, nc := range m.configs {
		if sched, scheduled := m.schedules[id]; scheduled {
			if now.Before(m.nextRun[id]) {
				continue
			}
			m.nextRun[id] = sched.Next(now)
		}
		nodeIDs = append(nodeIDs, id)
		configs = append(configs, nc)
	}
	m.mu.Unlock()

	if len(nodeIDs) == 0 {
		return
	}

	results := make([]bool, len(nodeIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, nc := range configs {
		i, nc := i, nc
		g.Go(func() error {
			results[i] = m.runProbes(gctx, nc)
			return nil
		})
	}
	_ = g.Wait()

	for i, nodeID := range nodeIDs {
		m.applyResult(nodeID, results[i])
	}
}

// runProbes runs every enabled probe for one node with the configured
// per-probe timeout, reporting overall success only if all pass.
func (m *Monitor) runProbes(ctx context.Context, nc NodeConfig) bool {
	for _, kind := range nc.EnabledProbes {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		err := m.prober.Probe(probeCtx, nc.NodeID, kind)
		cancel()
		if err != nil {
			return false
		}
	}
	return true
}

func (m *Monitor) applyResult(nodeID string, success bool) {
	m.mu.Lock()
	n, ok := m.nodes[nodeID]
	b := m.breakers[nodeID]
	if !ok {
		m.mu.Unlock()
		return
	}
	n.LastProbeAt = time.Now()
	b.Report(n.LastProbeAt, success)
	n.CircuitState = b.State()

	wasHealthy := n.Healthy
	if success {
		n.ConsecutiveSuccesses++
		n.ConsecutiveFailures = 0
		if !n.Healthy && n.ConsecutiveSuccesses >= m.cfg.SuccessThreshold {
			n.Healthy = true
		}
	} else {
		n.ConsecutiveFailures++
		n.ConsecutiveSuccesses = 0
		if n.Healthy && n.ConsecutiveFailures >= m.cfg.FailureThreshold {
			n.Healthy = false
		}
	}
	becameHealthy := !wasHealthy && n.Healthy
	becameUnhealthy := wasHealthy && !n.Healthy
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	switch {
	case becameHealthy:
		for _, l := range listeners {
			l.OnNodeHealthy(nodeID)
			l.OnNodeRecovered(nodeID)
		}
	case becameUnhealthy:
		for _, l := range listeners {
			l.OnNodeUnhealthy(nodeID)
		}
		if m.cfg.FailoverEnabled {
			for _, l := range listeners {
				l.OnNodeDead(nodeID)
			}
			m.openFailover(nodeID)
		}
	}
}

// SessionSource supplies the sessions a dead node owned and picks a
// target for each, so the monitor can open a FailoverPlan without
// depending on the session store's concrete type.
type SessionSource interface {
	SessionsOnNode(nodeID string) []string
	PickTarget(nodeID, sessionID string) string
}

// SetSessionSource wires the collaborator Open uses to build a plan's
// session list and target assignments when a node is declared dead. A
// nil source (the default) means failover is tracked structurally but
// never actually opens a plan, since there is nothing to migrate.
func (m *Monitor) SetSessionSource(s SessionSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = s
}

// Plans exposes the tracker for callers that drive migrations
// (reporting outcomes, sweeping timeouts) outside the probe loop.
func (m *Monitor) Plans() *PlanTracker { return m.plans }

func (m *Monitor) openFailover(nodeID string) {
	m.mu.Lock()
	src := m.sessions
	ttl := m.cfg.SessionMigrationTTL
	m.mu.Unlock()
	if src == nil {
		return
	}
	sessionIDs := src.SessionsOnNode(nodeID)
	if len(sessionIDs) == 0 {
		return
	}
	m.plans.Open(nodeID, sessionIDs, func(sessionID string) string {
		return src.PickTarget(nodeID, sessionID)
	}, ttl)
}
