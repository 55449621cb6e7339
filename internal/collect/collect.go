// Package collect fetches merged pull requests for a release window and
// enriches them with linked tracker stories.
package collect

import (
	"context"
	"fmt"
	"log"

	"github.com/TobiSchelling/rlsnotes/internal/model"
)

// DefaultUntilRef is the upper bound used when a query names none.
const DefaultUntilRef = "HEAD"

// Query selects the merged pull requests of one repository.
type Query struct {
	Owner     string
	Name      string
	SinceRef  string
	UntilRef  string
	SinceDate string
}

// FullName returns "owner/name".
func (q Query) FullName() string {
	return q.Owner + "/" + q.Name
}

// FetchError reports a failed remote call while collecting a repository.
type FetchError struct {
	Repo   string
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: %s: HTTP %d: %v", e.Repo, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("fetching %s: %s: %v", e.Repo, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Enrich attaches linked issues to the records using the given linker.
// Lookup failures are logged and leave the record untouched.
func Enrich(ctx context.Context, records []model.ChangeRecord, linker IssueLinker) ([]model.ChangeRecord, int) {
	if linker == nil || !linker.Enabled() {
		return records, 0
	}
	out := make([]model.ChangeRecord, len(records))
	linked := 0
	for i, rec := range records {
		out[i] = rec
		id, ok := linker.Resolve(rec.Title, rec.BodyExcerpt)
		if !ok {
			continue
		}
		issue, err := linker.Details(ctx, id)
		if err != nil {
			log.Printf("Issue lookup for PR #%d failed: %v", rec.Number, err)
			continue
		}
		if issue == nil {
			continue
		}
		out[i] = rec.WithIssue(issue)
		linked++
	}
	return out, linked
}

// Contributors returns the unique author handles of the records in order.
func Contributors(records []model.ChangeRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		h := r.Handle()
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
