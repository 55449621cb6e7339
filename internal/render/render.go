package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/rlsnotes/internal/schema"
)

// MaxFocusAreas bounds the tldr bullets; extra entries are dropped.
const MaxFocusAreas = 10

// DefaultTitle is used when no title is configured.
const DefaultTitle = "Release"

// Options controls Markdown rendering.
type Options struct {
	Title string
	// Now supplies the date in the title line; it is converted to UTC.
	Now   time.Time
	Rules []Rule
	// IncludeContributors appends a contributors line when the document has any.
	IncludeContributors bool
}

// Markdown renders a release document. Items from every repository and
// section are grouped under their product heading, products in first-seen
// order and items in input order.
func Markdown(doc *schema.Document, opts Options) string {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("# %s (%s)", title, now.UTC().Format("2006-01-02")), "")

	if len(doc.TLDR) > 0 {
		lines = append(lines, "Focus areas for the week:")
		tldr := doc.TLDR
		if len(tldr) > MaxFocusAreas {
			tldr = tldr[:MaxFocusAreas]
		}
		for _, b := range tldr {
			lines = append(lines, "- "+b)
		}
		lines = append(lines, "")
	}

	var products []string
	bullets := make(map[string][]string)
	for _, repo := range doc.Repos {
		name := repo.Name
		if name == "" {
			name = schema.UnknownRepo
		}
		product := ProductFor(name, rules)
		for _, sec := range repo.Sections {
			emoji := EmojiFor(strings.TrimSpace(sec.Title))
			for _, item := range sec.Items {
				if _, seen := bullets[product]; !seen {
					products = append(products, product)
				}
				bullets[product] = append(bullets[product], bullet(name, emoji, item))
			}
		}
	}

	for _, product := range products {
		items := bullets[product]
		if len(items) == 0 {
			continue
		}
		lines = append(lines, "**"+product+"**")
		lines = append(lines, items...)
		lines = append(lines, "")
	}

	if len(doc.UpgradeNotes) > 0 {
		lines = append(lines, "Upgrade notes:")
		for _, note := range doc.UpgradeNotes {
			lines = append(lines, "- "+note)
		}
		lines = append(lines, "")
	}

	if opts.IncludeContributors && len(doc.Contributors) > 0 {
		lines = append(lines, "Contributors: "+strings.Join(doc.Contributors, ", "), "")
	}

	return strings.Join(lines, "\n")
}

func bullet(repo, emoji string, item schema.Item) string {
	b := "- " + item.Text
	if emoji != "" {
		b = "- " + emoji + " " + item.Text
	}
	b = strings.TrimSpace(b)
	for _, n := range item.PRs {
		b += " " + PRLink(repo, n)
	}
	return b
}

// PRLink formats a Markdown link to a pull request.
func PRLink(repo string, number int) string {
	return fmt.Sprintf("[PR #%d](https://github.com/%s/pull/%d)", number, repo, number)
}

// EmojiFor maps a section title to its category marker.
func EmojiFor(title string) string {
	t := strings.ToLower(title)
	switch {
	case strings.HasPrefix(t, "feature"):
		return ":sparkles:"
	case strings.HasPrefix(t, "fix"):
		return ":bug:"
	case strings.HasPrefix(t, "chore"):
		return ":hammer_and_wrench:"
	default:
		return ""
	}
}
