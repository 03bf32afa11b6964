package registry

// parentToChildren is the static scope hierarchy: a parent scope implies
// every listed descendant. Kept as a small literal map rather than a
// parsed config, since the hierarchy is part of the protocol contract,
// not environment-specific.
var parentToChildren = map[string][]string{
	"session:*":  {"session:read", "session:write", "session:create", "session:stop"},
	"prompt:*":   {"prompt:submit", "prompt:cancel"},
	"memory:*":   {"memory:read", "memory:write"},
	"agent:*":    {"agent:spawn", "agent:status", "agent:stop"},
	"config:*":   {"config:read", "config:write"},
	"admin":      {"session:*", "prompt:*", "memory:*", "agent:*", "config:*", "health:read"},
}

// ExpandScopes flattens parent scopes to their implied descendants.
// The result always includes every input scope plus everything it
// implies, recursively, with duplicates removed.
func ExpandScopes(scopes []string) []string {
	seen := make(map[string]bool, len(scopes)*2)
	var out []string
	var visit func(s string)
	visit = func(s string) {
		if seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
		for _, child := range parentToChildren[s] {
			visit(child)
		}
	}
	for _, s := range scopes {
		visit(s)
	}
	return out
}

// HasRequiredScopes reports whether identity's (expanded) scopes cover
// every scope in needed. Pure set logic, no I/O.
func HasRequiredScopes(identityScopes []string, needed []string) bool {
	if len(needed) == 0 {
		return true
	}
	have := make(map[string]bool)
	for _, s := range ExpandScopes(identityScopes) {
		have[s] = true
	}
	for _, n := range needed {
		if !have[n] {
			return false
		}
	}
	return true
}
