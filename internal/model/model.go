package model

import "time"

// ChangeRecord is one merged pull request as returned by a change source.
// Records are immutable once fetched.
type ChangeRecord struct {
	Number       int
	Title        string
	BodyExcerpt  string
	Labels       []string
	Author       string
	URL          string
	MergeSHA     string
	MergedAt     *time.Time
	ChangedFiles *int
	Issue        *LinkedIssue
}

// LinkedIssue is the optional tracker story referenced by a pull request.
type LinkedIssue struct {
	ID          int64
	Name        string
	URL         string
	Description string
}

// WithIssue returns a copy of the record carrying the given linked issue.
func (r ChangeRecord) WithIssue(issue *LinkedIssue) ChangeRecord {
	r.Issue = issue
	return r
}

// Handle returns the author as an @mention, or "" when unknown.
func (r ChangeRecord) Handle() string {
	if r.Author == "" {
		return ""
	}
	return "@" + r.Author
}
