package filter

import (
	"strings"
	"unicode/utf8"
)

// Kind is the matching strategy chosen for a pattern.
type Kind int

const (
	ExactMatch Kind = iota
	PrefixMatch
	SuffixMatch
	PrefixSuffixMatch
	WildcardMatch
)

func (k Kind) String() string {
	switch k {
	case ExactMatch:
		return "exact"
	case PrefixMatch:
		return "prefix"
	case SuffixMatch:
		return "suffix"
	case PrefixSuffixMatch:
		return "prefix+suffix"
	default:
		return "wildcard"
	}
}

// Matcher is a compiled pattern.
type Matcher struct {
	kind    Kind
	pattern string
	prefix  string
	suffix  string
}

// Compile analyzes pattern and picks the cheapest strategy that is
// equivalent to full wildcard matching. '?' matches exactly one character,
// '*' matches any run of characters including none.
func Compile(pattern string) Matcher {
	p := Normalize(pattern)
	m := Matcher{kind: WildcardMatch, pattern: p}

	if strings.ContainsRune(p, '?') {
		return m
	}
	first := strings.IndexByte(p, '*')
	if first < 0 {
		m.kind = ExactMatch
		return m
	}
	last := strings.LastIndexByte(p, '*')
	if strings.Trim(p[first:last+1], "*") != "" {
		// More than one run of stars.
		return m
	}

	head, tail := p[:first], p[last+1:]
	switch {
	case tail == "":
		m.kind, m.prefix = PrefixMatch, head
	case head == "":
		m.kind, m.suffix = SuffixMatch, tail
	default:
		m.kind, m.prefix, m.suffix = PrefixSuffixMatch, head, tail
	}
	return m
}

// Kind returns the strategy chosen by Compile.
func (m Matcher) Kind() Kind {
	return m.kind
}

// Match reports whether s matches the pattern. s is case-folded first.
func (m Matcher) Match(s string) bool {
	return m.match(Normalize(s))
}

func (m Matcher) match(s string) bool {
	switch m.kind {
	case ExactMatch:
		return s == m.pattern
	case PrefixMatch:
		return strings.HasPrefix(s, m.prefix)
	case SuffixMatch:
		return strings.HasSuffix(s, m.suffix)
	case PrefixSuffixMatch:
		return len(s) >= len(m.prefix)+len(m.suffix) &&
			strings.HasPrefix(s, m.prefix) &&
			strings.HasSuffix(s, m.suffix)
	default:
		return wildcardMatch(m.pattern, s)
	}
}

// wildcardMatch backtracks over each star: try the rest of the pattern at
// every remaining position of s.
func wildcardMatch(p, s string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if p == "" {
				return true
			}
			for i := 0; i <= len(s); {
				if wildcardMatch(p, s[i:]) {
					return true
				}
				if i == len(s) {
					break
				}
				_, size := utf8.DecodeRuneInString(s[i:])
				i += size
			}
			return false
		case '?':
			if s == "" {
				return false
			}
			_, size := utf8.DecodeRuneInString(s)
			p, s = p[1:], s[size:]
		default:
			if s == "" || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return s == ""
}
