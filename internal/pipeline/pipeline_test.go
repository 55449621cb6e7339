package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/rlsnotes/internal/collect"
	"github.com/TobiSchelling/rlsnotes/internal/config"
	"github.com/TobiSchelling/rlsnotes/internal/consolidate"
	"github.com/TobiSchelling/rlsnotes/internal/database"
	"github.com/TobiSchelling/rlsnotes/internal/llm"
	"github.com/TobiSchelling/rlsnotes/internal/model"
)

type fakeSource struct {
	records map[string][]model.ChangeRecord
	err     error
	queries []collect.Query
}

func (s *fakeSource) FetchChanges(_ context.Context, q collect.Query) ([]model.ChangeRecord, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.records[q.FullName()], nil
}

type fakeProvider struct {
	replies  []string
	err      error
	requests []llm.Request
}

func (p *fakeProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *fakeProvider) IsConfigured() bool { return true }

var fixedNow = func() time.Time { return time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC) }

const twoBullets = `{
  "tldr": ["Faster checkout"],
  "repos": [{
    "name": "acme/public-api",
    "sections": [
      {"title": "Features", "items": [{"text": "Add checkout endpoint", "prs": [12]}]},
      {"title": "Fixes", "items": [{"text": "Fix rounding", "prs": [13]}]}
    ]
  }],
  "upgrade_notes": [],
  "contributors": []
}`

func scenario() *fakeSource {
	return &fakeSource{records: map[string][]model.ChangeRecord{
		"acme/public-api": {
			{Number: 12, Title: "feat: add checkout endpoint", Labels: []string{}, Author: "ann", URL: "https://github.com/acme/public-api/pull/12"},
			{Number: 13, Title: "fix: rounding", Labels: []string{"bug"}, Author: "bo", URL: "https://github.com/acme/public-api/pull/13"},
		},
	}}
}

var targets = []config.Repo{{Owner: "acme", Name: "public-api", SinceRef: "v1.0.0", UntilRef: "v1.1.0"}}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "RELEASE_NOTES.md")
	db, err := database.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer db.Close()

	provider := &fakeProvider{replies: []string{twoBullets}}
	p := New(scenario(), nil, provider, db, Options{
		Title:               "Weekly",
		Outfile:             outfile,
		IncludeContributors: true,
		Consolidate:         consolidate.Options{Model: "test-model", Temperature: 1},
		Now:                 fixedNow,
	})

	res, err := p.Run(context.Background(), targets)
	require.NoError(t, err)

	want := strings.Join([]string{
		"# Weekly (2025-03-08)",
		"",
		"Focus areas for the week:",
		"- Faster checkout",
		"",
		"**API**",
		"- :sparkles: Add checkout endpoint [PR #12](https://github.com/acme/public-api/pull/12)",
		"- :bug: Fix rounding [PR #13](https://github.com/acme/public-api/pull/13)",
		"",
		"Contributors: @ann, @bo",
		"",
	}, "\n")
	assert.Equal(t, want, res.Markdown)

	written, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Equal(t, want, string(written))

	require.Len(t, provider.requests, 1)
	msg := provider.requests[0].Messages[0]
	assert.Contains(t, msg, "Release window: v1.0.0 → v1.1.0")
	assert.Contains(t, msg, "Repo: acme/public-api")
	assert.Contains(t, msg, `"category":"Features"`)
	assert.Contains(t, msg, `"category":"Fixes"`)

	names := make([]string, len(res.Steps))
	for i, s := range res.Steps {
		assert.NoError(t, s.Err, s.Name)
		names[i] = s.Name
	}
	assert.Equal(t, []string{"Fetch", "Classify", "Consolidate", "Render", "Write", "Record"}, names)

	rel, err := db.GetRelease(res.ReleaseID)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, database.StatusOK, rel.Status)
	assert.Equal(t, "v1.0.0 → v1.1.0", rel.Window)
	assert.Equal(t, want, *rel.Markdown)

	counts, err := db.CategoryCounts(res.ReleaseID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Features": 1, "Fixes": 1}, counts)
}

func TestRunHTMLFormat(t *testing.T) {
	outfile := filepath.Join(t.TempDir(), "notes.html")
	p := New(scenario(), nil, &fakeProvider{replies: []string{twoBullets}}, nil, Options{
		Outfile: outfile,
		Format:  "html",
		Now:     fixedNow,
	})

	_, err := p.Run(context.Background(), targets)
	require.NoError(t, err)
	data, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Release</title>")
	assert.Contains(t, string(data), "<strong>API</strong>")
}

func TestRunFatalWritesNothing(t *testing.T) {
	dir := t.TempDir()
	outfile := filepath.Join(dir, "RELEASE_NOTES.md")
	db, err := database.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer db.Close()

	transport := &llm.InvocationError{Provider: "OpenAI", Status: 401}
	p := New(scenario(), nil, &fakeProvider{err: transport}, db, Options{Outfile: outfile, Now: fixedNow})

	res, err := p.Run(context.Background(), targets)
	var ierr *llm.InvocationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "Consolidate", res.Steps[len(res.Steps)-1].Name)

	_, statErr := os.Stat(outfile)
	assert.True(t, os.IsNotExist(statErr), "no output on fatal error")

	all, err := db.ListReleases(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, database.StatusFailed, all[0].Status)
	require.NotNil(t, all[0].Error)
	assert.Contains(t, *all[0].Error, "401")
}

func TestRunFetchFailure(t *testing.T) {
	src := &fakeSource{err: &collect.FetchError{Repo: "acme/public-api", Op: "search page 1", Status: 500}}
	provider := &fakeProvider{}
	p := New(src, nil, provider, nil, Options{Now: fixedNow})

	_, err := p.Run(context.Background(), targets)
	var fe *collect.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Empty(t, provider.requests)
}

func TestRunWithoutProvider(t *testing.T) {
	src := scenario()
	p := New(src, nil, nil, nil, Options{})
	_, err := p.Run(context.Background(), targets)
	var cerr *config.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Empty(t, src.queries)
}

func TestDryRunBuildsPrompt(t *testing.T) {
	src := scenario()
	p := New(src, nil, nil, nil, Options{Consolidate: consolidate.Options{Model: "m"}})

	res, err := p.DryRun(context.Background(), targets)
	require.NoError(t, err)
	assert.Contains(t, res.Prompt, "Repo: acme/public-api")
	assert.True(t, strings.HasSuffix(res.Prompt, "contributors: string[] }"))
	assert.Len(t, res.Steps, 3)
	require.Len(t, src.queries, 1)
	assert.Equal(t, "v1.0.0", src.queries[0].SinceRef)
}

func TestModelContributorsKept(t *testing.T) {
	reply := strings.Replace(twoBullets, `"contributors": []`, `"contributors": ["@team"]`, 1)
	p := New(scenario(), nil, &fakeProvider{replies: []string{reply}}, nil, Options{IncludeContributors: true, Now: fixedNow})

	res, err := p.Run(context.Background(), targets)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "Contributors: @team\n")
}

func TestProductRules(t *testing.T) {
	rules, err := ProductRules(nil)
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	rules, err = ProductRules([]config.ProductRule{{Match: "suffix", Pattern: "-svc", Label: "Services"}})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Services", rules[0].Label)

	_, err = ProductRules([]config.ProductRule{{Match: "glob", Pattern: "*", Label: "X"}})
	var cerr *config.ConfigError
	assert.True(t, errors.As(err, &cerr))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.md")
	require.NoError(t, WriteAtomic(path, "first"))
	require.NoError(t, WriteAtomic(path, "second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
