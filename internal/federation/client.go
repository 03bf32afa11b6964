// Package federation implements the thin outbound client the router
// consults when a method call must be delegated to a remote peer
// daemon. It is a call pass-through only: no persistence, no consensus,
// matching the cross-cluster Non-goals carried forward from spec.md.
package federation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/health"
	"github.com/relayhub/orchestratord/internal/trace"
)

// Transport sends one call payload to a peer node and returns its
// decoded response payload. The concrete implementation (an outbound
// WebSocket or HTTP client) lives outside this package.
type Transport interface {
	Send(ctx context.Context, nodeID string, payload map[string]any) (map[string]any, error)
}

// AvailabilityGate is the narrow view of the health monitor this client
// needs: whether a node may currently receive calls, and a place to
// report the outcome back into its circuit breaker.
type AvailabilityGate interface {
	IsNodeAvailable(nodeID string, now time.Time) bool
	Breaker(nodeID string) (*health.CircuitBreaker, bool)
}

// Config controls the retry budget for one delegated call.
type Config struct {
	MaxElapsedTime time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{MaxElapsedTime: 10 * time.Second, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// Client delegates method calls to remote nodes, gated by the health
// monitor's availability and circuit breaker state.
type Client struct {
	cfg       Config
	transport Transport
	gate      AvailabilityGate
}

func New(cfg Config, transport Transport, gate AvailabilityGate) *Client {
	return &Client{cfg: cfg, transport: transport, gate: gate}
}

// Delegate sends payload to nodeID, retrying transient transport
// failures with exponential backoff up to Config.MaxElapsedTime or the
// deadline carried in ctx, whichever is sooner. The trace context is
// injected into the outbound payload so the peer can continue the same
// trace (there being no HTTP header to carry a traceparent over this
// peer-to-peer call shape).
func (c *Client) Delegate(ctx context.Context, nodeID string, payload map[string]any, tc *trace.TraceContext) (map[string]any, error) {
	if !c.gate.IsNodeAvailable(nodeID, time.Now()) {
		return nil, errs.New(errs.InternalError, "node "+nodeID+" is not available for delegation")
	}

	trace.InjectPayload(payload, tc)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = c.cfg.MaxElapsedTime
	bctx := backoff.WithContext(bo, ctx)

	var resp map[string]any
	operation := func() error {
		r, err := c.transport.Send(ctx, nodeID, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	breaker, hasBreaker := c.gate.Breaker(nodeID)
	err := backoff.Retry(operation, bctx)
	if hasBreaker {
		breaker.Report(time.Now(), err == nil)
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.InternalError, "federated delegation to "+nodeID+" failed")
	}
	return resp, nil
}
