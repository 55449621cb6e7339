package collect

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const githubWebURL = "https://github.com"

// ReleaseFeed reads a repository's releases Atom feed.
type ReleaseFeed struct {
	baseURL string
	parser  *gofeed.Parser
}

// NewReleaseFeed creates a feed reader for the given web base URL
// ("https://github.com" when empty).
func NewReleaseFeed(baseURL string) *ReleaseFeed {
	if baseURL == "" {
		baseURL = githubWebURL
	}
	return &ReleaseFeed{baseURL: strings.TrimRight(baseURL, "/"), parser: gofeed.NewParser()}
}

// URL returns the feed location for a repository.
func (f *ReleaseFeed) URL(owner, name string) string {
	return fmt.Sprintf("%s/%s/%s/releases.atom", f.baseURL, owner, name)
}

// LatestReleaseDate returns the publication date (YYYY-MM-DD, UTC) of the
// newest entry, or "" when the feed has no dated entries.
func (f *ReleaseFeed) LatestReleaseDate(ctx context.Context, owner, name string) (string, error) {
	feedURL := f.URL(owner, name)
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", feedURL, err)
	}

	var latest time.Time
	for _, item := range feed.Items {
		if d := itemDate(item); d.After(latest) {
			latest = d
		}
	}
	if latest.IsZero() {
		return "", nil
	}
	log.Printf("Parsed %d release entries from %s", len(feed.Items), feedURL)
	return latest.UTC().Format(dateLayout), nil
}

func itemDate(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}
