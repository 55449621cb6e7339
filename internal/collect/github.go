package collect

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/github"
	"github.com/hashicorp/go-version"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/rlsnotes/internal/model"
)

const (
	searchPageSize  = 100
	tagPageSize     = 100
	excerptMaxLines = 10
)

// GitHubOptions configures a GitHub source.
type GitHubOptions struct {
	Token string
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL string
	// RequestsPerSecond paces API calls; zero disables pacing.
	RequestsPerSecond float64
	// Releases supplies the latest release date when no window can be derived.
	Releases *ReleaseFeed
}

// GitHub fetches merged pull requests through the GitHub REST API.
type GitHub struct {
	client   *github.Client
	limiter  *rate.Limiter
	releases *ReleaseFeed
}

// NewGitHubClient creates a GitHub source from explicit options.
func NewGitHubClient(opts GitHubOptions) (*GitHub, error) {
	var hc *http.Client
	if opts.Token != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.Token},
		))
	}
	client := github.NewClient(hc)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		client.BaseURL = u
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &GitHub{
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		releases: opts.Releases,
	}, nil
}

// FetchChanges returns the merged pull requests of the query's window in
// discovery order. Any failed page aborts with a *FetchError.
func (g *GitHub) FetchChanges(ctx context.Context, q Query) ([]model.ChangeRecord, error) {
	repo := q.FullName()
	if q.UntilRef == "" {
		q.UntilRef = DefaultUntilRef
	}
	sinceRef := q.SinceRef
	if sinceRef == "" {
		prev, err := g.previousTag(ctx, q)
		if err != nil {
			return nil, err
		}
		sinceRef = prev
	}

	window := g.window(ctx, q, sinceRef)
	query := fmt.Sprintf("repo:%s is:pr is:merged", repo)
	if !window.IsZero() {
		query += " merged:" + window.String()
	}
	log.Printf("Searching %s: %s", repo, query)

	var records []model.ChangeRecord
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: searchPageSize, Page: 1}}
	for {
		if err := g.wait(ctx, repo); err != nil {
			return nil, err
		}
		result, resp, err := g.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return nil, fetchError(repo, fmt.Sprintf("search page %d", opts.Page), resp, err)
		}
		if len(result.Issues) == 0 {
			break
		}
		for _, issue := range result.Issues {
			rec, ok, err := g.hydrate(ctx, q, issue)
			if err != nil {
				return nil, err
			}
			if ok {
				records = append(records, rec)
			}
		}
		log.Printf("Accumulated %d PRs after page %d for %s", len(records), opts.Page, repo)
		if len(result.Issues) < searchPageSize {
			break
		}
		opts.Page++
	}

	log.Printf("Total merged PRs fetched for %s: %d", repo, len(records))
	return records, nil
}

// window derives the merge-date range: from a ref compare, then since_date
// up to today, then the latest published release up to today.
func (g *GitHub) window(ctx context.Context, q Query, sinceRef string) DateRange {
	repo := q.FullName()
	if sinceRef != "" && q.UntilRef != "" {
		r, err := g.compareRange(ctx, q, sinceRef)
		if err != nil {
			log.Printf("Compare failed for %s (%s..%s); falling back: %v", repo, sinceRef, q.UntilRef, err)
		} else if !r.IsZero() {
			log.Printf("Derived date range for %s from compare: %s", repo, r)
			return r
		}
	}
	if q.SinceDate != "" {
		return DateRange{Since: q.SinceDate, Until: Today()}
	}
	if g.releases != nil {
		since, err := g.releases.LatestReleaseDate(ctx, q.Owner, q.Name)
		if err != nil {
			log.Printf("Release feed lookup failed for %s: %v", repo, err)
		} else if since != "" {
			log.Printf("Using latest release date for %s: %s", repo, since)
			return DateRange{Since: since, Until: Today()}
		}
	}
	log.Printf("No date window for %s; searching all merged PRs", repo)
	return DateRange{}
}

func (g *GitHub) compareRange(ctx context.Context, q Query, sinceRef string) (DateRange, error) {
	if err := g.wait(ctx, q.FullName()); err != nil {
		return DateRange{}, err
	}
	cmp, _, err := g.client.Repositories.CompareCommits(ctx, q.Owner, q.Name, sinceRef, q.UntilRef)
	if err != nil {
		return DateRange{}, err
	}
	var dates []time.Time
	for _, c := range cmp.Commits {
		if d := c.GetCommit().GetAuthor().GetDate(); !d.IsZero() {
			dates = append(dates, d)
		}
	}
	return rangeOf(dates), nil
}

// previousTag picks the tag after untilRef in version order, or the second
// newest tag when untilRef is not a tag.
func (g *GitHub) previousTag(ctx context.Context, q Query) (string, error) {
	repo := q.FullName()
	if err := g.wait(ctx, repo); err != nil {
		return "", err
	}
	tags, resp, err := g.client.Repositories.ListTags(ctx, q.Owner, q.Name, &github.ListOptions{PerPage: tagPageSize})
	if err != nil {
		return "", fetchError(repo, "list tags", resp, err)
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.GetName())
	}
	names = sortTags(names)

	for i, name := range names {
		if name == q.UntilRef && i+1 < len(names) {
			log.Printf("Auto-detected previous tag for %s: %s (until=%s)", repo, names[i+1], q.UntilRef)
			return names[i+1], nil
		}
	}
	if len(names) > 1 {
		log.Printf("Auto-detected previous tag (fallback) for %s: %s", repo, names[1])
		return names[1], nil
	}
	log.Printf("No previous tag found for %s", repo)
	return "", nil
}

// sortTags orders tags newest first when every tag parses as a version and
// otherwise keeps the API order.
func sortTags(names []string) []string {
	versions := make(map[string]*version.Version, len(names))
	for _, n := range names {
		v, err := version.NewVersion(n)
		if err != nil {
			return names
		}
		versions[n] = v
	}
	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return versions[sorted[i]].GreaterThan(versions[sorted[j]])
	})
	return sorted
}

// hydrate loads the full pull request for a search hit. A pull request that
// vanished (404) is skipped.
func (g *GitHub) hydrate(ctx context.Context, q Query, issue github.Issue) (model.ChangeRecord, bool, error) {
	repo := q.FullName()
	number := issue.GetNumber()
	if err := g.wait(ctx, repo); err != nil {
		return model.ChangeRecord{}, false, err
	}
	pr, resp, err := g.client.PullRequests.Get(ctx, q.Owner, q.Name, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			log.Printf("PR #%d not found in %s", number, repo)
			return model.ChangeRecord{}, false, nil
		}
		return model.ChangeRecord{}, false, fetchError(repo, fmt.Sprintf("get PR #%d", number), resp, err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, strings.ToLower(l.GetName()))
	}

	rec := model.ChangeRecord{
		Number:      number,
		Title:       pr.GetTitle(),
		BodyExcerpt: excerpt(pr.GetBody(), excerptMaxLines),
		Labels:      labels,
		Author:      pr.GetUser().GetLogin(),
		URL:         pr.GetHTMLURL(),
		MergeSHA:    pr.GetMergeCommitSHA(),
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt()
		rec.MergedAt = &t
	}
	if pr.ChangedFiles != nil {
		n := pr.GetChangedFiles()
		rec.ChangedFiles = &n
	}
	return rec, true, nil
}

func (g *GitHub) wait(ctx context.Context, repo string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &FetchError{Repo: repo, Op: "rate limit", Err: err}
	}
	return nil
}

func fetchError(repo, op string, resp *github.Response, err error) *FetchError {
	fe := &FetchError{Repo: repo, Op: op, Err: err}
	if resp != nil {
		fe.Status = resp.StatusCode
	}
	return fe
}

// excerpt keeps the first n lines of text.
func excerpt(text string, n int) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
