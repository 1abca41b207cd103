package match

import "testing"

func TestAggregateExactAndGlob(t *testing.T) {
	agg, err := NewAggregate([]string{"calc.add", "weather.*"})
	if err != nil {
		t.Fatalf("NewAggregate error: %v", err)
	}

	if !agg.MatchAny("calc.add") {
		t.Error("expected exact pattern to match")
	}
	if !agg.MatchAny("weather.forecast") {
		t.Error("expected glob pattern to match")
	}
	if agg.MatchAny("calc.sub") {
		t.Error("expected non-member to not match")
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg, err := NewAggregate(nil)
	if err != nil {
		t.Fatalf("NewAggregate error: %v", err)
	}
	if !agg.Empty() {
		t.Error("expected empty aggregate")
	}
	if agg.MatchAny("anything") {
		t.Error("expected empty aggregate to match nothing")
	}
}

func TestPathAggregateTmpBoundary(t *testing.T) {
	agg, err := NewPathAggregate([]string{"/tmp/**"})
	if err != nil {
		t.Fatalf("NewPathAggregate error: %v", err)
	}
	if !agg.MatchAny("/tmp/a/b") {
		t.Error("expected /tmp/** to match /tmp/a/b")
	}
	if agg.MatchAny("/tmpfoo") {
		t.Error("expected /tmp/** to not match /tmpfoo")
	}
}

func TestPathAggregateExact(t *testing.T) {
	agg, err := NewPathAggregate([]string{"/etc/hosts"})
	if err != nil {
		t.Fatalf("NewPathAggregate error: %v", err)
	}
	if !agg.MatchAny("/etc/hosts") {
		t.Error("expected exact path to match")
	}
	if agg.MatchAny("/etc/passwd") {
		t.Error("expected unrelated path to not match")
	}
}
