package registry

import "testing"

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	err := r.Register(MethodDescriptor{
		Name:           "health.ping",
		RequiredScopes: nil,
		Handler:        func(HandlerContext, []byte) (any, error) { return "pong", nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	d, rerr := r.Lookup("health.ping")
	if rerr != nil {
		t.Fatal(rerr)
	}
	if d.Name != "health.ping" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}

func TestLookupUnknownMethod(t *testing.T) {
	r := New()
	_, err := r.Lookup("nope")
	if err == nil {
		t.Fatal("expected METHOD_NOT_FOUND")
	}
	if err.Code != "METHOD_NOT_FOUND" {
		t.Fatalf("expected METHOD_NOT_FOUND, got %s", err.Code)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	d := MethodDescriptor{Name: "x", Handler: func(HandlerContext, []byte) (any, error) { return nil, nil }}
	if err := r.Register(d); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(d); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestDiscoverListsAll(t *testing.T) {
	r := New()
	r.Register(MethodDescriptor{Name: "a", Handler: noop})
	r.Register(MethodDescriptor{Name: "b", Handler: noop})
	if len(r.Discover()) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(r.Discover()))
	}
}

func noop(HandlerContext, []byte) (any, error) { return nil, nil }

func TestExpandScopesFlattensHierarchy(t *testing.T) {
	expanded := ExpandScopes([]string{"session:*"})
	want := map[string]bool{"session:*": true, "session:read": true, "session:write": true, "session:create": true, "session:stop": true}
	if len(expanded) != len(want) {
		t.Fatalf("expected %d scopes, got %d: %v", len(want), len(expanded), expanded)
	}
	for _, s := range expanded {
		if !want[s] {
			t.Fatalf("unexpected scope %q in expansion", s)
		}
	}
}

func TestHasRequiredScopesViaAdmin(t *testing.T) {
	if !HasRequiredScopes([]string{"admin"}, []string{"session:write", "memory:read"}) {
		t.Fatal("expected admin scope to imply session:write and memory:read")
	}
}

func TestHasRequiredScopesMissing(t *testing.T) {
	if HasRequiredScopes([]string{"session:read"}, []string{"session:write"}) {
		t.Fatal("expected session:read to not imply session:write")
	}
}
