package rpc

import (
	"time"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/domain"
	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/registry"
	"github.com/relayhub/orchestratord/internal/subscription"
)

// HealthSource is the narrow view of the health monitor the method
// catalog needs for health.ping/health.status, avoiding an import of
// the full monitor package from here.
type HealthSource interface {
	Ping() string
	Status() any
}

// Catalog bundles the collaborators every stock method handler closes
// over: domain state, the authenticator (for auth.refresh),
// the subscription manager (for subscribe/unsubscribe), the registry
// itself (for rpc.discover/describe), and the health monitor.
type Catalog struct {
	Store        *domain.Store
	Authn        *auth.Authenticator
	Subscription *subscription.Manager
	Registry     *registry.Registry
	Health       HealthSource
}

// RegisterAll installs the full stock method catalog from the protocol
// method table into reg.
func (c *Catalog) RegisterAll(reg *registry.Registry) error {
	methods := []registry.MethodDescriptor{
		c.authConnect(),
		c.authRefresh(),
		c.authLogout(),
		c.sessionCreate(),
		c.sessionResume(),
		c.sessionStop(),
		c.sessionList(),
		c.sessionStatus(),
		c.promptSubmit(),
		c.promptCancel(),
		c.toolApprove(),
		c.toolDeny(),
		c.agentSpawn(),
		c.agentStatus(),
		c.agentStop(),
		c.memoryQuery(),
		c.memoryStore(),
		c.memoryDelete(),
		c.configGet(),
		c.configSet(),
		c.healthPing(),
		c.healthStatus(),
		c.subscribe(),
		c.unsubscribe(),
		c.rpcDiscover(),
		c.rpcDescribe(),
	}
	for _, m := range methods {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) authConnect() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        "auth.connect",
		Description: "re-announces the caller's identity after transport-level auth already ran",
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			return map[string]any{"clientId": ctx.Identity.ClientID, "method": ctx.Identity.Method, "scopes": ctx.Identity.Scopes}, nil
		},
	}
}

func (c *Catalog) authRefresh() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        "auth.refresh",
		Params:      []registry.ParamField{{Name: "token", Type: "string"}, {Name: "apiKey", Type: "string"}},
		Description: "validates fresh inline credentials and returns the resulting identity; the connection's stored identity is not replaced",
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				Token  string `json:"token"`
				APIKey string `json:"apiKey"`
			}
			_ = json.Unmarshal(params, &p)
			id, fail := c.Authn.AuthenticateMessage(auth.InlineCredentials{Token: p.Token, APIKey: p.APIKey}, time.Now())
			if fail != nil {
				return nil, errs.New(errs.AuthInvalid, fail.Error())
			}
			return map[string]any{"clientId": id.ClientID, "scopes": id.Scopes}, nil
		},
	}
}

func (c *Catalog) authLogout() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        "auth.logout",
		Description: "clears the caller's subscriptions ahead of connection teardown",
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			c.Subscription.Disconnect(ctx.ConnID)
			return map[string]any{"ok": true}, nil
		},
	}
}

func (c *Catalog) sessionCreate() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "session.create",
		RequiredScopes: []string{"session:create"},
		Params:         []registry.ParamField{{Name: "nodeId", Type: "string"}},
		Description:    "opens a new agent session owned by the caller",
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				NodeID string `json:"nodeId"`
			}
			_ = json.Unmarshal(params, &p)
			sess := c.Store.CreateSession(ctx.Identity.ClientID, p.NodeID)
			return sess, nil
		},
	}
}

func (c *Catalog) sessionResume() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "session.resume",
		RequiredScopes: []string{"session:write"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			sess, ok := c.Store.ResumeSession(p.SessionID)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown session "+p.SessionID)
			}
			return sess, nil
		},
	}
}

func (c *Catalog) sessionStop() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "session.stop",
		RequiredScopes: []string{"session:stop"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			sess, ok := c.Store.StopSession(p.SessionID)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown session "+p.SessionID)
			}
			return sess, nil
		},
	}
}

func (c *Catalog) sessionList() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "session.list",
		RequiredScopes: []string{"session:read"},
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			return c.Store.ListSessions(ctx.Identity.ClientID), nil
		},
	}
}

func (c *Catalog) sessionStatus() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "session.status",
		RequiredScopes: []string{"session:read"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			sess, ok := c.Store.Session(p.SessionID)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown session "+p.SessionID)
			}
			return sess, nil
		},
	}
}

func (c *Catalog) promptSubmit() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "prompt.submit",
		RequiredScopes: []string{"prompt:submit"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}, {Name: "text", Type: "string", Required: true}},
		Events:         []registry.EventDescriptor{{Name: "prompt.chunk", Description: "one streamed output chunk"}, {Name: "prompt.done", Description: "terminal event for this prompt"}},
		Description:    "submits a prompt to a session's agent; streams prompt.chunk events through the sink",
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Text      string `json:"text"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			if _, ok := c.Store.Session(p.SessionID); !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown session "+p.SessionID)
			}
			if ctx.Sink != nil {
				ctx.Sink.Emit("prompt.chunk", map[string]any{"sessionId": p.SessionID, "text": p.Text})
				ctx.Sink.Emit("prompt.done", map[string]any{"sessionId": p.SessionID})
			}
			return map[string]any{"accepted": true}, nil
		},
	}
}

func (c *Catalog) promptCancel() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "prompt.cancel",
		RequiredScopes: []string{"prompt:cancel"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}},
		Description:    "acknowledges a cancellation request for a session's prompt; no in-flight stream is signalled",
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			return map[string]any{"cancelled": true}, nil
		},
	}
}

func (c *Catalog) toolApprove() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "tool.approve",
		RequiredScopes: []string{"agent:spawn"},
		Params:         []registry.ParamField{{Name: "requestId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			req, ok := c.Store.ResolveTool(p.RequestID, true)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown tool request "+p.RequestID)
			}
			return req, nil
		},
	}
}

func (c *Catalog) toolDeny() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "tool.deny",
		RequiredScopes: []string{"agent:spawn"},
		Params:         []registry.ParamField{{Name: "requestId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				RequestID string `json:"requestId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			req, ok := c.Store.ResolveTool(p.RequestID, false)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown tool request "+p.RequestID)
			}
			return req, nil
		},
	}
}

func (c *Catalog) agentSpawn() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "agent.spawn",
		RequiredScopes: []string{"agent:spawn"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}, {Name: "kind", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Kind      string `json:"kind"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			if _, ok := c.Store.Session(p.SessionID); !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown session "+p.SessionID)
			}
			return c.Store.SpawnAgent(p.SessionID, p.Kind), nil
		},
	}
}

func (c *Catalog) agentStatus() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "agent.status",
		RequiredScopes: []string{"agent:status"},
		Params:         []registry.ParamField{{Name: "agentId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				AgentID string `json:"agentId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			a, ok := c.Store.Agent(p.AgentID)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown agent "+p.AgentID)
			}
			return a, nil
		},
	}
}

func (c *Catalog) agentStop() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "agent.stop",
		RequiredScopes: []string{"agent:stop"},
		Params:         []registry.ParamField{{Name: "agentId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				AgentID string `json:"agentId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			a, ok := c.Store.StopAgent(p.AgentID)
			if !ok {
				return nil, errs.New(errs.InvalidRequest, "unknown agent "+p.AgentID)
			}
			return a, nil
		},
	}
}

func (c *Catalog) memoryQuery() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "memory.query",
		RequiredScopes: []string{"memory:read"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}, {Name: "query", Type: "string"}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Query     string `json:"query"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			return c.Store.MemoryQuery(p.SessionID, p.Query), nil
		},
	}
}

func (c *Catalog) memoryStore() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "memory.store",
		RequiredScopes: []string{"memory:write"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}, {Name: "key", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Key       string `json:"key"`
				Value     any    `json:"value"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			c.Store.MemoryStore(p.SessionID, p.Key, p.Value)
			return map[string]any{"ok": true}, nil
		},
	}
}

func (c *Catalog) memoryDelete() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "memory.delete",
		RequiredScopes: []string{"memory:write"},
		Params:         []registry.ParamField{{Name: "sessionId", Type: "string", Required: true}, {Name: "key", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SessionID string `json:"sessionId"`
				Key       string `json:"key"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			return map[string]any{"deleted": c.Store.MemoryDelete(p.SessionID, p.Key)}, nil
		},
	}
}

func (c *Catalog) configGet() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "config.get",
		RequiredScopes: []string{"config:read"},
		Params:         []registry.ParamField{{Name: "key", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			v, ok := c.Store.ConfigGet(p.Key)
			return map[string]any{"key": p.Key, "value": v, "found": ok}, nil
		},
	}
}

func (c *Catalog) configSet() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "config.set",
		RequiredScopes: []string{"config:write"},
		Params:         []registry.ParamField{{Name: "key", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				Key   string `json:"key"`
				Value any    `json:"value"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			c.Store.ConfigSet(p.Key, p.Value)
			return map[string]any{"ok": true}, nil
		},
	}
}

func (c *Catalog) healthPing() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name: "health.ping",
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			if c.Health == nil {
				return "pong", nil
			}
			return c.Health.Ping(), nil
		},
	}
}

func (c *Catalog) healthStatus() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:           "health.status",
		RequiredScopes: []string{"health:read"},
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			if c.Health == nil {
				return map[string]any{"nodes": []any{}}, nil
			}
			return c.Health.Status(), nil
		},
	}
}

func (c *Catalog) subscribe() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        "subscribe",
		Params:      []registry.ParamField{{Name: "pattern", Type: "string", Required: true}},
		Description: "subscribes the connection to events matching a glob pattern",
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				Pattern string `json:"pattern"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			subID, err := c.Subscription.Subscribe(ctx.ConnID, p.Pattern, nil)
			if err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			return map[string]any{"subscriptionId": subID}, nil
		},
	}
}

func (c *Catalog) unsubscribe() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:   "unsubscribe",
		Params: []registry.ParamField{{Name: "subscriptionId", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				SubscriptionID string `json:"subscriptionId"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			if err := c.Subscription.Unsubscribe(ctx.ConnID, p.SubscriptionID); err != nil {
				return nil, errs.New(errs.InvalidRequest, err.Error())
			}
			return map[string]any{"ok": true}, nil
		},
	}
}

func (c *Catalog) rpcDiscover() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:        "rpc.discover",
		Description: "lists every registered method with its required scopes and description",
		Handler: func(ctx registry.HandlerContext, _ []byte) (any, error) {
			descs := c.Registry.Discover()
			out := make([]map[string]any, 0, len(descs))
			for _, d := range descs {
				out = append(out, map[string]any{"name": d.Name, "requiredScopes": d.RequiredScopes, "description": d.Description})
			}
			return out, nil
		},
	}
}

func (c *Catalog) rpcDescribe() registry.MethodDescriptor {
	return registry.MethodDescriptor{
		Name:   "rpc.describe",
		Params: []registry.ParamField{{Name: "method", Type: "string", Required: true}},
		Handler: func(ctx registry.HandlerContext, params []byte) (any, error) {
			var p struct {
				Method string `json:"method"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, errs.New(errs.InvalidParams, err.Error())
			}
			d, err := c.Registry.Describe(p.Method)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"name":           d.Name,
				"requiredScopes": d.RequiredScopes,
				"params":         d.Params,
				"description":    d.Description,
				"events":         d.Events,
			}, nil
		},
	}
}
