package classify

import (
	"regexp"
	"strings"

	"github.com/TobiSchelling/rlsnotes/internal/model"
)

// Category is one of the three release-note buckets.
type Category string

const (
	Features Category = "Features"
	Fixes    Category = "Fixes"
	Chore    Category = "Chore"
)

// Categories lists every category in display order.
var Categories = []Category{Features, Fixes, Chore}

const areaPrefix = "area/"

var conventionalRe = regexp.MustCompile(`(?i)^(feat|fix|perf|docs|chore|refactor)(!:|:|\(.*\)(!:|:))`)

// labelRules are checked in order; the first group with a matching label wins.
var labelRules = []struct {
	labels   []string
	category Category
}{
	{[]string{"feature", "enhancement", "type:feat", "feat"}, Features},
	{[]string{"bug", "fix", "type:bug"}, Fixes},
	{[]string{"perf", "performance"}, Fixes},
	{[]string{"docs", "documentation"}, Chore},
	{[]string{"refactor", "chore"}, Chore},
}

var prefixCategories = map[string]Category{
	"feat":     Features,
	"fix":      Fixes,
	"perf":     Fixes,
	"docs":     Chore,
	"refactor": Chore,
	"chore":    Chore,
}

// Classified is a change record annotated with its derived category.
type Classified struct {
	Record   model.ChangeRecord
	Category Category
	Area     string
	Breaking bool
}

// Classify derives the category, area tag and breaking flag for a record.
// The result depends only on the title, labels and body excerpt.
func Classify(r model.ChangeRecord) Classified {
	labels := make(map[string]struct{}, len(r.Labels))
	var area string
	for _, l := range r.Labels {
		l = strings.ToLower(l)
		labels[l] = struct{}{}
		if area == "" && strings.HasPrefix(l, areaPrefix) {
			area = l
		}
	}

	breaking := isBreaking(r, labels)

	cat := Chore
	if breaking {
		cat = Features
	} else if c, ok := labelCategory(labels); ok {
		cat = c
	}

	if prefix := ConventionalPrefix(r.Title); prefix != "" {
		cat = prefixCategories[prefix]
	}

	return Classified{Record: r, Category: cat, Area: area, Breaking: breaking}
}

// ClassifyAll classifies records preserving their order.
func ClassifyAll(records []model.ChangeRecord) []Classified {
	out := make([]Classified, 0, len(records))
	for _, r := range records {
		out = append(out, Classify(r))
	}
	return out
}

// ConventionalPrefix returns the lower-cased conventional-commit type of a
// title ("feat", "fix", ...), or "" when the title has none.
func ConventionalPrefix(title string) string {
	m := conventionalRe.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

func isBreaking(r model.ChangeRecord, labels map[string]struct{}) bool {
	if _, ok := labels["breaking"]; ok {
		return true
	}
	if _, ok := labels["breaking-change"]; ok {
		return true
	}
	if strings.Contains(strings.ToLower(r.BodyExcerpt), "breaking change") {
		return true
	}
	if fields := strings.Fields(r.Title); len(fields) > 0 {
		return strings.Contains(fields[0], "!")
	}
	return false
}

func labelCategory(labels map[string]struct{}) (Category, bool) {
	for _, rule := range labelRules {
		for _, l := range rule.labels {
			if _, ok := labels[l]; ok {
				return rule.category, true
			}
		}
	}
	return "", false
}

// Counts tallies classified records per category.
func Counts(classified []Classified) map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, c := range classified {
		counts[c.Category]++
	}
	return counts
}
