package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/TobiSchelling/rlsnotes/internal/model"
)

const (
	shortcutBaseURL   = "https://api.app.shortcut.com/api/v3"
	shortcutCacheSize = 512
)

var (
	storyURLRe = regexp.MustCompile(`https?://app\.shortcut\.com/[^/]+/story/(\d+)`)
	storyRefRe = regexp.MustCompile(`(?i)\bsc-(\d{3,})\b`)
)

// IssueLinker resolves the tracker story referenced by a pull request.
type IssueLinker interface {
	Enabled() bool
	Resolve(title, body string) (int64, bool)
	Details(ctx context.Context, id int64) (*model.LinkedIssue, error)
}

// Shortcut looks up stories in the Shortcut API.
type Shortcut struct {
	token   string
	baseURL string
	client  *http.Client
	cache   *lru.Cache
}

// NewShortcutWithToken creates a Shortcut client for the given API base URL,
// or the public API when baseURL is empty. Without a token the client is
// disabled.
func NewShortcutWithToken(token, baseURL string) *Shortcut {
	if baseURL == "" {
		baseURL = shortcutBaseURL
	}
	cache, err := lru.New(shortcutCacheSize)
	if err != nil {
		panic(err)
	}
	return &Shortcut{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   cache,
	}
}

// Enabled returns whether a token is available.
func (s *Shortcut) Enabled() bool {
	return s != nil && s.token != ""
}

// Resolve extracts a story id, preferring a story URL in the body over an
// sc-NNN reference in the title, then the body.
func (s *Shortcut) Resolve(title, body string) (int64, bool) {
	if m := storyURLRe.FindStringSubmatch(body); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id, true
		}
	}
	for _, text := range []string{title, body} {
		if m := storyRefRe.FindStringSubmatch(text); m != nil {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

// Details fetches a story. A missing story yields nil without error.
func (s *Shortcut) Details(ctx context.Context, id int64) (*model.LinkedIssue, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if v, ok := s.cache.Get(id); ok {
		return v.(*model.LinkedIssue), nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/stories/%d", s.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Shortcut-Token", s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shortcut story %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Printf("Shortcut story %d not found", id)
		s.cache.Add(id, (*model.LinkedIssue)(nil))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shortcut story %d: HTTP %d", id, resp.StatusCode)
	}

	var story struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		AppURL      string `json:"app_url"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decoding shortcut story %d: %w", id, err)
	}

	issue := &model.LinkedIssue{ID: story.ID, Name: story.Name, URL: story.AppURL, Description: story.Description}
	if issue.ID == 0 {
		issue.ID = id
	}
	s.cache.Add(id, issue)
	return issue, nil
}
