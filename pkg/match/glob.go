// Package match provides the pattern matchers shared by every permission
// group in the policy engine: glob, CIDR, and normalized-path matching.
package match

import (
	"strings"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// segmentKind distinguishes literal runs from wildcard tokens inside a
// compiled glob.
type segmentKind int

const (
	segLiteral segmentKind = iota
	segStar            // '*' - any run not containing the separator
	segDoubleStar      // '**' - any run, including separators
	segClass           // '[...]' character class
)

type segment struct {
	kind  segmentKind
	text  string // literal text, or the raw class body for segClass
	class *charClass
}

type charClass struct {
	negate bool
	ranges []classRange
}

type classRange struct {
	lo, hi rune
}

// Glob is a compiled glob pattern. The zero value is not usable; build one
// with CompileGlob.
type Glob struct {
	raw      string
	segments []segment
}

// CompileGlob compiles pattern into a matcher. Supported syntax:
//
//	*       matches a non-separator run (possibly empty)
//	**      matches any run, including separators
//	[abc]   matches one of the listed characters
//	[a-z]   matches one character in the range
//	[^abc]  negated class
//	\x      literal escape for the following rune
//
// Compilation never fails on syntactically valid input; an unterminated
// character class is reported as a policy_parse error.
func CompileGlob(pattern string) (*Glob, error) {
	segs, err := parseGlobSegments(pattern)
	if err != nil {
		return nil, err
	}
	return &Glob{raw: pattern, segments: segs}, nil
}

// String returns the original pattern text.
func (g *Glob) String() string {
	return g.raw
}

// Match reports whether candidate matches the compiled pattern in full.
func (g *Glob) Match(candidate string) bool {
	return matchSegments(g.segments, candidate)
}

func parseGlobSegments(pattern string) ([]segment, error) {
	var segs []segment
	var literal strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			segs = append(segs, segment{kind: segLiteral, text: literal.String()})
			literal.Reset()
		}
	}

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\\':
			if i+1 >= len(runes) {
				return nil, errors.New(errors.ErrPolicyParse, "dangling escape at end of pattern").WithPath(pattern)
			}
			literal.WriteRune(runes[i+1])
			i++
		case '*':
			flushLiteral()
			if i+1 < len(runes) && runes[i+1] == '*' {
				segs = append(segs, segment{kind: segDoubleStar})
				i++
			} else {
				segs = append(segs, segment{kind: segStar})
			}
		case '[':
			flushLiteral()
			end := indexRune(runes, i+1, ']')
			if end < 0 {
				return nil, errors.New(errors.ErrPolicyParse, "unterminated character class").WithPath(pattern)
			}
			cls, err := parseClass(string(runes[i+1 : end]))
			if err != nil {
				return nil, err
			}
			segs = append(segs, segment{kind: segClass, class: cls})
			i = end
		default:
			literal.WriteRune(r)
		}
	}
	flushLiteral()
	return segs, nil
}

func indexRune(runes []rune, start int, target rune) int {
	for i := start; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

func parseClass(body string) (*charClass, error) {
	if body == "" {
		return nil, errors.New(errors.ErrPolicyParse, "empty character class")
	}
	cls := &charClass{}
	runes := []rune(body)
	i := 0
	if runes[0] == '^' {
		cls.negate = true
		i++
	}
	for i < len(runes) {
		lo := runes[i]
		if i+2 < len(runes) && runes[i+1] == '-' {
			hi := runes[i+2]
			cls.ranges = append(cls.ranges, classRange{lo: lo, hi: hi})
			i += 3
			continue
		}
		cls.ranges = append(cls.ranges, classRange{lo: lo, hi: lo})
		i++
	}
	return cls, nil
}

func (c *charClass) matches(r rune) bool {
	in := false
	for _, rg := range c.ranges {
		if r >= rg.lo && r <= rg.hi {
			in = true
			break
		}
	}
	if c.negate {
		return !in
	}
	return in
}

// matchSegments runs a small backtracking matcher over the compiled
// segment list. Pattern lengths in this system are short (policy
// documents, not arbitrary user input), so backtracking is acceptable.
func matchSegments(segs []segment, candidate string) bool {
	return matchFrom(segs, 0, []rune(candidate), 0)
}

func matchFrom(segs []segment, si int, cand []rune, ci int) bool {
	for si < len(segs) {
		seg := segs[si]
		switch seg.kind {
		case segLiteral:
			lit := []rune(seg.text)
			if ci+len(lit) > len(cand) {
				return false
			}
			for k, r := range lit {
				if cand[ci+k] != r {
					return false
				}
			}
			ci += len(lit)
			si++
		case segClass:
			if ci >= len(cand) || !seg.class.matches(cand[ci]) {
				return false
			}
			ci++
			si++
		case segStar:
			return matchStar(segs, si+1, cand, ci, false)
		case segDoubleStar:
			return matchStar(segs, si+1, cand, ci, true)
		}
	}
	return ci == len(cand)
}

// matchStar tries every split point for a * or ** wildcard starting at ci.
// crossSep allows the consumed run to contain '/'.
func matchStar(segs []segment, si int, cand []rune, ci int, crossSep bool) bool {
	for end := ci; end <= len(cand); end++ {
		if !crossSep && end > ci && cand[end-1] == '/' {
			break
		}
		if matchFrom(segs, si, cand, end) {
			return true
		}
	}
	return false
}
