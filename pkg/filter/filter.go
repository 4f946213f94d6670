// Package filter decides which paths of a source tree take part in a backup.
//
// A Filter is an ordered list of rules. The first Include or Exclude rule whose
// pattern matches decides; Ignore rules never decide. A path no rule decides
// is included.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Action is what a matching rule does with a path.
type Action int

const (
	Include Action = iota
	Exclude
	Ignore
)

var actionNames = map[Action]string{
	Include: "include",
	Exclude: "exclude",
	Ignore:  "ignore",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction parses "include", "exclude" or "ignore" (case-insensitive).
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if strings.EqualFold(s, name) {
			return a, nil
		}
	}
	return Include, fmt.Errorf("invalid filter action %q: must be 'include', 'exclude' or 'ignore'", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("invalid filter action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Rule is one entry of a filter list as it appears in the job file.
type Rule struct {
	Action  Action `json:"action" yaml:"action"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

type compiledRule struct {
	action  Action
	matcher Matcher
}

// Filter is a compiled rule list. It is immutable and safe for concurrent use.
type Filter struct {
	rules []compiledRule
}

// New compiles rules. Ignore rules are dropped since they can never decide.
func New(rules []Rule) *Filter {
	f := &Filter{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Action == Ignore {
			continue
		}
		f.rules = append(f.rules, compiledRule{action: r.Action, matcher: Compile(r.Pattern)})
	}
	return f
}

// IsPathIncluded evaluates the rules against path. A nil Filter includes
// everything.
func (f *Filter) IsPathIncluded(path string) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}
	key := Normalize(path)
	for _, r := range f.rules {
		if r.matcher.match(key) {
			return r.action == Include
		}
	}
	return true
}

// Normalize returns the case-folded, forward slash form used for matching.
func Normalize(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}
