package rpc

import (
	"context"
	"testing"

	"github.com/relayhub/orchestratord/internal/domain"
	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/registry"
)

func newTestCatalog(t *testing.T) (*Handler, *registry.Registry, *Catalog) {
	t.Helper()
	reg := registry.New()
	cat := &Catalog{Store: domain.NewStore(), Registry: reg}
	if err := cat.RegisterAll(reg); err != nil {
		t.Fatal(err)
	}
	return New(reg), reg, cat
}

func TestInvokeUnknownMethod(t *testing.T) {
	h, _, _ := newTestCatalog(t)
	_, rerr := h.Invoke(registry.HandlerContext{Context: context.Background()}, "nope.nope", nil)
	if rerr == nil || rerr.Code != errs.MethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", rerr)
	}
}

func TestInvokePermissionDenied(t *testing.T) {
	h, _, _ := newTestCatalog(t)
	ctx := registry.HandlerContext{Context: context.Background(), Identity: registry.Identity{Scopes: nil}}
	_, rerr := h.Invoke(ctx, "session.create", []byte(`{}`))
	if rerr == nil || rerr.Code != errs.PermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %+v", rerr)
	}
}

func TestInvokeMissingRequiredParam(t *testing.T) {
	h, _, _ := newTestCatalog(t)
	ctx := registry.HandlerContext{Context: context.Background(), Identity: registry.Identity{Scopes: []string{"session:stop"}}}
	_, rerr := h.Invoke(ctx, "session.stop", []byte(`{}`))
	if rerr == nil || rerr.Code != errs.InvalidParams {
		t.Fatalf("expected INVALID_PARAMS, got %+v", rerr)
	}
}

func TestInvokeSessionLifecycle(t *testing.T) {
	h, _, _ := newTestCatalog(t)
	ctx := registry.HandlerContext{Context: context.Background(), Identity: registry.Identity{ClientID: "u1", Scopes: []string{"session:create", "session:stop", "session:read"}}}

	res, rerr := h.Invoke(ctx, "session.create", []byte(`{"nodeId":"n1"}`))
	if rerr != nil {
		t.Fatal(rerr)
	}
	sess := res.(*domain.Session)
	if sess.NodeID != "n1" || sess.Status != domain.SessionActive {
		t.Fatalf("unexpected session: %+v", sess)
	}

	params := []byte(`{"sessionId":"` + sess.ID + `"}`)
	res, rerr = h.Invoke(ctx, "session.stop", params)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if res.(*domain.Session).Status != domain.SessionStopped {
		t.Fatal("expected stopped session")
	}

	res, rerr = h.Invoke(ctx, "session.list", nil)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if len(res.([]*domain.Session)) != 1 {
		t.Fatalf("expected 1 session, got %v", res)
	}
}

func TestInvokeHealthPingNoSourceConfigured(t *testing.T) {
	h, _, _ := newTestCatalog(t)
	res, rerr := h.Invoke(registry.HandlerContext{Context: context.Background()}, "health.ping", nil)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if res != "pong" {
		t.Fatalf("expected pong, got %v", res)
	}
}

func TestInvokeRpcDiscoverListsEveryMethod(t *testing.T) {
	h, reg, _ := newTestCatalog(t)
	res, rerr := h.Invoke(registry.HandlerContext{Context: context.Background()}, "rpc.discover", nil)
	if rerr != nil {
		t.Fatal(rerr)
	}
	list := res.([]map[string]any)
	if len(list) != len(reg.Discover()) {
		t.Fatalf("expected %d methods, got %d", len(reg.Discover()), len(list))
	}
}
