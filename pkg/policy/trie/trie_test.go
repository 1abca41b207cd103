package trie

import "testing"

func TestTrieWildcardBoundary(t *testing.T) {
	tr := New[bool]()
	tr.Insert("/tmp/**", true)

	if v, ok := tr.Decide("/tmp/a/b"); !ok || !v {
		t.Error("expected /tmp/** to cover /tmp/a/b")
	}
	if _, ok := tr.Decide("/tmpfoo"); ok {
		t.Error("expected /tmp/** to not cover /tmpfoo")
	}
}

func TestTrieExactOverWildcard(t *testing.T) {
	tr := New[string]()
	tr.Insert("/tmp/**", "wildcard")
	tr.Insert("/tmp/special", "exact")

	v, ok := tr.Decide("/tmp/special")
	if !ok || v != "exact" {
		t.Errorf("expected exact match to win, got %q (ok=%v)", v, ok)
	}

	v, ok = tr.Decide("/tmp/other")
	if !ok || v != "wildcard" {
		t.Errorf("expected wildcard fallback, got %q (ok=%v)", v, ok)
	}
}

func TestTrieClosestAncestorWins(t *testing.T) {
	tr := New[int]()
	tr.Insert("/a/**", 1)
	tr.Insert("/a/b/**", 2)

	v, ok := tr.Decide("/a/b/c")
	if !ok || v != 2 {
		t.Errorf("expected the deeper ancestor to win, got %d (ok=%v)", v, ok)
	}

	v, ok = tr.Decide("/a/x")
	if !ok || v != 1 {
		t.Errorf("expected the shallower ancestor to apply, got %d (ok=%v)", v, ok)
	}
}

func TestTrieSingleStarSegment(t *testing.T) {
	tr := New[bool]()
	tr.Insert("/var/*/log", true)

	if _, ok := tr.Decide("/var/app1/log"); !ok {
		t.Error("expected single-star segment to match one path component")
	}
	if _, ok := tr.Decide("/var/app1/app2/log"); ok {
		t.Error("expected single-star segment to not cross multiple components")
	}
}

func TestTrieNoMatch(t *testing.T) {
	tr := New[bool]()
	tr.Insert("/etc/hosts", true)

	if _, ok := tr.Decide("/etc/passwd"); ok {
		t.Error("expected no match for an unrelated path")
	}
}
