package subscription

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// segment is one dot-separated piece of a glob pattern.
type segment struct {
	literal string
	star    bool // "*" — matches exactly one segment
	deep    bool // "**" — matches zero or more segments
}

// CompiledGlob is a finite automaton over dot-separated event name
// segments, compiled once per subscribe call.
type CompiledGlob struct {
	raw      string
	segments []segment
}

func (g *CompiledGlob) String() string { return g.raw }

// Compile parses a glob pattern using "*" (single segment) and "**"
// (multi-segment) semantics, e.g. "session.*.status" or "prompt.**".
func Compile(pattern string) (*CompiledGlob, error) {
	if pattern == "" {
		return nil, errors.New("empty glob pattern")
	}
	parts := strings.Split(pattern, ".")
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch p {
		case "**":
			if i != len(parts)-1 {
				// allow "**" anywhere, not just trailing
				segs = append(segs, segment{deep: true})
			} else {
				segs = append(segs, segment{deep: true})
			}
		case "*":
			segs = append(segs, segment{star: true})
		case "":
			return nil, errors.Newf("invalid glob pattern %q: empty segment", pattern)
		default:
			segs = append(segs, segment{literal: p})
		}
	}
	return &CompiledGlob{raw: pattern, segments: segs}, nil
}

// Match reports whether eventName satisfies the compiled pattern.
func (g *CompiledGlob) Match(eventName string) bool {
	parts := strings.Split(eventName, ".")
	return matchFrom(g.segments, parts)
}

func matchFrom(segs []segment, parts []string) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	s := segs[0]
	if s.deep {
		// "**" matches zero or more segments: try every split point.
		for i := 0; i <= len(parts); i++ {
			if matchFrom(segs[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if s.star || s.literal == parts[0] {
		return matchFrom(segs[1:], parts[1:])
	}
	return false
}
