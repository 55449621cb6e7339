package render

import (
	"fmt"
	"strings"
)

// Rule maps repositories to a product label. Match receives the lower-cased
// repository full name.
type Rule struct {
	Label string
	Match func(name string) bool
}

// DefaultRules are the built-in product buckets, in priority order.
var DefaultRules = []Rule{
	{Label: "Syrup", Match: func(n string) bool { return strings.HasSuffix(n, "/ya-webapp") || strings.Contains(n, "syrup") }},
	{Label: "hq", Match: Contains("/hq")},
	{Label: "API", Match: Contains("api")},
}

// Contains matches names containing s.
func Contains(s string) func(string) bool {
	s = strings.ToLower(s)
	return func(n string) bool { return strings.Contains(n, s) }
}

// Suffix matches names ending in s.
func Suffix(s string) func(string) bool {
	s = strings.ToLower(s)
	return func(n string) bool { return strings.HasSuffix(n, s) }
}

// Prefix matches names starting with s.
func Prefix(s string) func(string) bool {
	s = strings.ToLower(s)
	return func(n string) bool { return strings.HasPrefix(n, s) }
}

// Exact matches the full name s.
func Exact(s string) func(string) bool {
	s = strings.ToLower(s)
	return func(n string) bool { return n == s }
}

// NewRule builds a rule from a matcher kind ("contains", "suffix", "prefix"
// or "exact") and pattern.
func NewRule(kind, pattern, label string) (Rule, error) {
	if label == "" {
		return Rule{}, fmt.Errorf("product rule for %q has no label", pattern)
	}
	var match func(string) bool
	switch strings.ToLower(kind) {
	case "contains", "":
		match = Contains(pattern)
	case "suffix":
		match = Suffix(pattern)
	case "prefix":
		match = Prefix(pattern)
	case "exact":
		match = Exact(pattern)
	default:
		return Rule{}, fmt.Errorf("unknown product match %q", kind)
	}
	return Rule{Label: label, Match: match}, nil
}

// ProductFor returns the label of the first matching rule, or the
// repository's own name.
func ProductFor(fullName string, rules []Rule) string {
	name := strings.ToLower(fullName)
	for _, r := range rules {
		if r.Match(name) {
			return r.Label
		}
	}
	return fullName
}
