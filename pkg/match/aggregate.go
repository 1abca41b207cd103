package match

import "strings"

// globMeta reports whether a glob pattern contains any wildcard syntax.
// A pattern with no wildcards is folded into the exact-match set instead
// of the compiled glob list, since a map lookup beats a linear scan.
func globMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*[\`)
}

// Aggregate collects many glob patterns and answers "does any member
// match?" in a single pass. Patterns with no wildcard syntax are held in
// a map for O(1) lookup; the rest fall back to a linear scan over
// compiled globs.
type Aggregate struct {
	exact map[string]struct{}
	globs []*Glob
}

// NewAggregate compiles every pattern and returns the resulting
// aggregate. A pattern that fails to compile aborts the whole call.
func NewAggregate(patterns []string) (*Aggregate, error) {
	agg := &Aggregate{exact: make(map[string]struct{})}
	for _, p := range patterns {
		if !globMeta(p) {
			agg.exact[p] = struct{}{}
			continue
		}
		g, err := CompileGlob(p)
		if err != nil {
			return nil, err
		}
		agg.globs = append(agg.globs, g)
	}
	return agg, nil
}

// Empty reports whether the aggregate holds no patterns at all.
func (a *Aggregate) Empty() bool {
	return a == nil || (len(a.exact) == 0 && len(a.globs) == 0)
}

// MatchAny reports whether candidate matches any pattern in the
// aggregate, checking the exact set before falling back to the glob
// list.
func (a *Aggregate) MatchAny(candidate string) bool {
	if a == nil {
		return false
	}
	if _, ok := a.exact[candidate]; ok {
		return true
	}
	for _, g := range a.globs {
		if g.Match(candidate) {
			return true
		}
	}
	return false
}

// PathAggregate is the path-normalized counterpart of Aggregate, used by
// the storage permission group.
type PathAggregate struct {
	exact map[string]struct{}
	paths []*Path
}

// NewPathAggregate compiles many path patterns into one aggregate.
func NewPathAggregate(patterns []string) (*PathAggregate, error) {
	agg := &PathAggregate{exact: make(map[string]struct{})}
	for _, p := range patterns {
		norm := normalizeSeparators(p)
		if !globMeta(norm) {
			agg.exact[norm] = struct{}{}
			continue
		}
		pm, err := CompilePath(p)
		if err != nil {
			return nil, err
		}
		agg.paths = append(agg.paths, pm)
	}
	return agg, nil
}

// Empty reports whether the aggregate holds no patterns at all.
func (a *PathAggregate) Empty() bool {
	return a == nil || (len(a.exact) == 0 && len(a.paths) == 0)
}

// MatchAny reports whether candidate matches any pattern in the
// aggregate.
func (a *PathAggregate) MatchAny(candidate string) bool {
	if a == nil {
		return false
	}
	norm := normalizeSeparators(candidate)
	if _, ok := a.exact[norm]; ok {
		return true
	}
	for _, p := range a.paths {
		if p.Match(norm) {
			return true
		}
	}
	return false
}
