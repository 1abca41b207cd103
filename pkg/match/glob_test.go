package match

import "testing"

func TestGlobStar(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		candidate string
		want      bool
	}{
		{"star matches run", "calc.*", "calc.add", true},
		{"star does not cross separator", "tmp/*", "tmp/a/b", false},
		{"double star crosses separator", "tmp/**", "tmp/a/b", true},
		{"double star matches directly under root", "tmp/**", "tmp/a", true},
		{"literal mismatch", "calc.add", "calc.sub", false},
		{"exact match", "calc.add", "calc.add", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := CompileGlob(tt.pattern)
			if err != nil {
				t.Fatalf("CompileGlob(%q) error: %v", tt.pattern, err)
			}
			if got := g.Match(tt.candidate); got != tt.want {
				t.Errorf("Match(%q) on pattern %q = %v, want %v", tt.candidate, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestGlobTmpBoundary(t *testing.T) {
	g, err := CompileGlob("/tmp/**")
	if err != nil {
		t.Fatalf("CompileGlob error: %v", err)
	}

	if !g.Match("/tmp/a/b") {
		t.Error("expected /tmp/** to match /tmp/a/b")
	}
	if g.Match("/tmpfoo") {
		t.Error("expected /tmp/** to not match /tmpfoo")
	}
}

func TestGlobCharacterClass(t *testing.T) {
	g, err := CompileGlob("log[0-9].txt")
	if err != nil {
		t.Fatalf("CompileGlob error: %v", err)
	}
	if !g.Match("log5.txt") {
		t.Error("expected log[0-9].txt to match log5.txt")
	}
	if g.Match("logA.txt") {
		t.Error("expected log[0-9].txt to not match logA.txt")
	}
}

func TestGlobNegatedClass(t *testing.T) {
	g, err := CompileGlob("[^a-z]og.txt")
	if err != nil {
		t.Fatalf("CompileGlob error: %v", err)
	}
	if !g.Match("3og.txt") {
		t.Error("expected negated class to match a digit")
	}
	if g.Match("dog.txt") {
		t.Error("expected negated class to reject a lowercase letter")
	}
}

func TestGlobEscape(t *testing.T) {
	g, err := CompileGlob(`literal\*star`)
	if err != nil {
		t.Fatalf("CompileGlob error: %v", err)
	}
	if !g.Match("literal*star") {
		t.Error("expected escaped star to match literally")
	}
	if g.Match("literalXstar") {
		t.Error("expected escaped star to not behave as a wildcard")
	}
}

func TestGlobUnterminatedClass(t *testing.T) {
	if _, err := CompileGlob("log[0-9"); err == nil {
		t.Error("expected error for unterminated character class")
	}
}

func TestGlobDanglingEscape(t *testing.T) {
	if _, err := CompileGlob(`literal\`); err == nil {
		t.Error("expected error for dangling escape")
	}
}
