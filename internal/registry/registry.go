// Package registry holds the method catalog: one descriptor per RPC
// method plus event descriptors, powering rpc.discover/rpc.describe for
// self-describing clients.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/trace"
)

// SubscriptionSink lets a streaming handler emit Event frames before its
// response resolves.
type SubscriptionSink interface {
	Emit(event string, payload any)
}

// Identity is the authenticated principal the registry and handlers
// need. It is defined here rather than in package auth because auth
// imports this package and returns this type from its authenticators.
type Identity struct {
	ClientID  string
	Method    string
	Scopes    []string
	ExpiresAt *int64 // unix millis, nil means no expiry
}

// Expired reports whether the identity's token has expired as of now.
// An identity with no expiry never expires.
func (id Identity) Expired(now time.Time) bool {
	if id.ExpiresAt == nil {
		return false
	}
	return now.UnixMilli() > *id.ExpiresAt
}

// HandlerContext is passed to every method handler.
type HandlerContext struct {
	Context          context.Context
	Identity         Identity
	ConnID           string
	TraceContext     *trace.TraceContext
	Sink             SubscriptionSink
}

// HandlerFunc implements one RPC method. It returns a JSON-serializable
// result or a *errs.Error. Streaming handlers emit zero or more events
// through ctx.Sink before returning.
type HandlerFunc func(ctx HandlerContext, params []byte) (result any, err error)

// EventDescriptor documents an event name a method may emit, for
// discovery purposes.
type EventDescriptor struct {
	Name        string
	Description string
}

// ParamField documents one expected parameter for schema validation and
// for rpc.describe.
type ParamField struct {
	Name     string
	Type     string // "string", "number", "boolean", "object", "array"
	Required bool
}

// MethodDescriptor describes one callable method.
type MethodDescriptor struct {
	Name           string
	RequiredScopes []string
	Params         []ParamField
	Description    string
	Handler        HandlerFunc
	Events         []EventDescriptor
}

// Registry is the method catalog. It is built once at startup and read
// concurrently from every connection's pipeline thereafter.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]*MethodDescriptor
}

func New() *Registry {
	return &Registry{methods: make(map[string]*MethodDescriptor)}
}

// Register adds a method descriptor. It takes the registry's write lock,
// so it may run concurrently with Lookup/Discover; in practice
// registration happens once at startup before any connection is accepted.
func (r *Registry) Register(d MethodDescriptor) error {
	if d.Name == "" {
		return errors.New("method descriptor requires a name")
	}
	if d.Handler == nil {
		return errors.Newf("method %q requires a handler", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[d.Name]; exists {
		return errors.Newf("method %q already registered", d.Name)
	}
	cp := d
	r.methods[d.Name] = &cp
	return nil
}

// Lookup returns the descriptor for name, or METHOD_NOT_FOUND.
func (r *Registry) Lookup(name string) (*MethodDescriptor, *errs.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.methods[name]
	if !ok {
		return nil, errs.New(errs.MethodNotFound, "unknown method "+name)
	}
	return d, nil
}

// Discover lists every registered method's name, required scopes, and
// description, for the rpc.discover method.
func (r *Registry) Discover() []MethodDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MethodDescriptor, 0, len(r.methods))
	for _, d := range r.methods {
		out = append(out, *d)
	}
	return out
}

// Describe returns the full descriptor for a single method, for
// rpc.describe.
func (r *Registry) Describe(name string) (*MethodDescriptor, *errs.Error) {
	return r.Lookup(name)
}
