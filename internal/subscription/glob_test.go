package subscription

import "testing"

func TestGlobSingleSegmentStar(t *testing.T) {
	g, err := Compile("session.*.status")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"session.abc.status":     true,
		"session.abc.def.status": false,
		"session.status":         false,
	}
	for name, want := range cases {
		if got := g.Match(name); got != want {
			t.Errorf("Match(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGlobDeepStar(t *testing.T) {
	g, err := Compile("prompt.**")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"prompt.submit":        true,
		"prompt.submit.chunk":  true,
		"prompt":               true, // "**" matches zero segments
		"other.prompt.submit":  false,
	}
	for name, want := range cases {
		if got := g.Match(name); got != want {
			t.Errorf("Match(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestGlobLeadingDeepStar(t *testing.T) {
	g, err := Compile("**.status")
	if err != nil {
		t.Fatal(err)
	}
	if !g.Match("session.abc.status") {
		t.Error("expected leading ** to match any prefix")
	}
	if g.Match("session.abc.other") {
		t.Error("expected mismatch on trailing segment")
	}
}

func TestCompileRejectsEmptySegment(t *testing.T) {
	if _, err := Compile("session..status"); err == nil {
		t.Fatal("expected error for empty segment")
	}
}
