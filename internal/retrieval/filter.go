package retrieval

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule is one include or exclude pattern. Patterns use doublestar globs
// against slash-separated store-relative paths: * stays within a path
// segment, ** crosses segments.
type Rule struct {
	Include bool
	Pattern string
}

func (r Rule) String() string {
	sign := "-"
	if r.Include {
		sign = "+"
	}
	return sign + " " + r.Pattern
}

// Filter is an ordered include/exclude pattern list. Evaluation is
// top-to-bottom, first match wins, with an implicit trailing exclude-all:
// a path matching no rule is not selected.
type Filter struct {
	rules []Rule
}

// NewFilter validates the rules' patterns up front so matching never fails.
func NewFilter(rules []Rule) (*Filter, error) {
	for i, r := range rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("rule %d: invalid pattern %q", i+1, r.Pattern)
		}
	}
	return &Filter{rules: rules}, nil
}

// IncludeAll selects every path.
func IncludeAll() *Filter {
	return &Filter{rules: []Rule{{Include: true, Pattern: "**"}}}
}

// ParseFilter reads a filter file: one rule per line, "+ <glob>" to include
// and "- <glob>" to exclude, with blank lines and #-comments ignored.
func ParseFilter(r io.Reader) (*Filter, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		sign, pattern, ok := strings.Cut(text, " ")
		pattern = strings.TrimSpace(pattern)
		if !ok || pattern == "" || (sign != "+" && sign != "-") {
			return nil, fmt.Errorf("line %d: want %q or %q, got %q", line, "+ <pattern>", "- <pattern>", text)
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("line %d: invalid pattern %q", line, pattern)
		}
		rules = append(rules, Rule{Include: sign == "+", Pattern: pattern})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read filter: %w", err)
	}
	return &Filter{rules: rules}, nil
}

// Rules returns the parsed rules in evaluation order.
func (f *Filter) Rules() []Rule { return f.rules }

// Match reports whether the filter selects a store-relative path.
func (f *Filter) Match(path string) bool {
	for _, r := range f.rules {
		ok, err := doublestar.Match(r.Pattern, path)
		if err != nil {
			continue // pattern was validated; unreachable
		}
		if ok {
			return r.Include
		}
	}
	return false
}
