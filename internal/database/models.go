package database

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Release is one pipeline run and, when it succeeded, its rendered notes.
type Release struct {
	ID          int64
	Title       string
	Window      string
	Repos       []string
	Status      string
	Error       *string
	Model       *string
	Calls       int
	Tier        *string
	Markdown    *string
	Document    *string // validated release document as JSON
	Outfile     *string
	GeneratedAt *string
}

// ChangeRecord is a classified pull request that fed a release.
type ChangeRecord struct {
	ReleaseID  int64
	Repo       string
	Number     int
	Title      string
	Author     *string
	URL        *string
	Category   string
	Area       *string
	IsBreaking bool
}

// Stats contains aggregate database statistics.
type Stats struct {
	Releases       int
	FailedRuns     int
	ChangeRecords  int
	Repos          int
	BreakingChange int
	LastGenerated  *string
}
