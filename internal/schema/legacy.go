package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// UnknownRepo collects legacy items whose URL does not name a pull request.
const UnknownRepo = "unknown/unknown"

// LegacyCategories are the category keys read from a legacy document, in the
// order their sections are emitted.
var LegacyCategories = []string{
	"Breaking Changes",
	"Features",
	"Fixes",
	"Performance",
	"Docs",
	"Chore",
}

// legacyMarkers identify a legacy document; at least one must be present.
var legacyMarkers = []string{"Features", "Fixes", "Chore"}

var errNotLegacy = errors.New("not a legacy category document")

// Legacy is the flat category map some models return instead of the target
// schema, e.g. {"Features": [{"title": "...", "url": "..."}]}.
type Legacy map[string][]LegacyItem

// LegacyItem is one entry of a legacy category list. Plain strings are read
// as a title.
type LegacyItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (li *LegacyItem) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*li = LegacyItem{Title: text}
		return nil
	}
	type plain LegacyItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*li = LegacyItem(p)
	return nil
}

// IsLegacy reports whether raw carries any of the legacy category keys.
func IsLegacy(raw map[string]any) bool {
	for _, key := range legacyMarkers {
		if _, ok := raw[key]; ok {
			return true
		}
	}
	return false
}

// ParseLegacy reads the legacy category lists out of raw. It fails when raw
// has no legacy key or a category value is not a list of items.
func ParseLegacy(raw map[string]any) (Legacy, error) {
	if !IsLegacy(raw) {
		return nil, errNotLegacy
	}
	legacy := make(Legacy)
	for _, cat := range LegacyCategories {
		v, ok := raw[cat]
		if !ok || v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("legacy %s: %w", cat, err)
		}
		var items []LegacyItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("legacy %s: %w", cat, err)
		}
		legacy[cat] = items
	}
	return legacy, nil
}

// Coerce converts the legacy map into a target document. Items are grouped
// by the repository parsed from their URL, one section per category per
// repository; repositories appear in first-seen order.
func (l Legacy) Coerce() *Document {
	doc := &Document{}
	index := make(map[string]int)

	for _, cat := range LegacyCategories {
		items := l[cat]
		if len(items) == 0 {
			continue
		}

		var order []string
		grouped := make(map[string][]Item)
		for _, it := range items {
			repo, number, ok := ParsePullURL(it.URL)
			if !ok {
				repo = UnknownRepo
			}
			text := it.Title
			if text == "" {
				text = it.Description
			}
			prs := []int{}
			if ok {
				prs = append(prs, number)
			}
			if _, seen := grouped[repo]; !seen {
				order = append(order, repo)
			}
			grouped[repo] = append(grouped[repo], Item{Text: text, PRs: prs})
		}

		for _, repo := range order {
			i, ok := index[repo]
			if !ok {
				i = len(doc.Repos)
				index[repo] = i
				doc.Repos = append(doc.Repos, Repo{Name: repo})
			}
			doc.Repos[i].Sections = append(doc.Repos[i].Sections, Section{Title: cat, Items: grouped[repo]})
		}
	}

	doc.normalize()
	return doc
}

// ParsePullURL extracts "owner/repo" and the pull request number from a URL
// of the form https://host/owner/repo/pull/N.
func ParsePullURL(raw string) (string, int, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 || parts[0] == "" || parts[1] == "" || parts[2] != "pull" {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return parts[0] + "/" + parts[1], n, true
}
