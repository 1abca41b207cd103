package match

import "strings"

// Path is a glob matcher pre-normalized for filesystem paths: the
// separator is always '/' and the pattern is compared against an
// already-canonicalized candidate path (see pkg/policy/compiled for
// canonicalization).
type Path struct {
	glob *Glob
}

// CompilePath compiles a path pattern. The pattern and candidate paths are
// expected to already use '/' as the separator.
func CompilePath(pattern string) (*Path, error) {
	g, err := CompileGlob(normalizeSeparators(pattern))
	if err != nil {
		return nil, err
	}
	return &Path{glob: g}, nil
}

// String returns the original pattern text.
func (p *Path) String() string {
	return p.glob.String()
}

// Match reports whether candidate matches, after normalizing separators.
func (p *Path) Match(candidate string) bool {
	return p.glob.Match(normalizeSeparators(candidate))
}

func normalizeSeparators(s string) string {
	return strings.ReplaceAll(s, `\`, "/")
}
