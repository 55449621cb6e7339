package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/rlsnotes/internal/classify"
	"github.com/TobiSchelling/rlsnotes/internal/collect"
	"github.com/TobiSchelling/rlsnotes/internal/config"
	"github.com/TobiSchelling/rlsnotes/internal/consolidate"
	"github.com/TobiSchelling/rlsnotes/internal/database"
	"github.com/TobiSchelling/rlsnotes/internal/llm"
	"github.com/TobiSchelling/rlsnotes/internal/model"
	"github.com/TobiSchelling/rlsnotes/internal/prompt"
	"github.com/TobiSchelling/rlsnotes/internal/render"
)

// Source returns the merged changes of one repository.
type Source interface {
	FetchChanges(ctx context.Context, q collect.Query) ([]model.ChangeRecord, error)
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a pipeline run.
type Result struct {
	Window    prompt.Window
	Steps     []StepResult
	Markdown  string
	Outfile   string
	ReleaseID int64
	Outcome   *consolidate.Outcome
	// Prompt is the user message; set by DryRun.
	Prompt string
}

// Options configures rendering and output.
type Options struct {
	Title               string
	Outfile             string
	Format              string // "md" or "html"
	Rules               []render.Rule
	IncludeContributors bool
	Consolidate         consolidate.Options
	Now                 func() time.Time
}

// Pipeline runs fetch -> classify -> consolidate -> render -> write -> record.
type Pipeline struct {
	source   Source
	linker   collect.IssueLinker
	provider llm.Provider
	db       *database.DB
	opts     Options

	consolidator *consolidate.Consolidator
}

// New creates a pipeline. linker and db may be nil.
func New(source Source, linker collect.IssueLinker, provider llm.Provider, db *database.DB, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Format == "" {
		opts.Format = "md"
	}
	return &Pipeline{
		source:       source,
		linker:       linker,
		provider:     provider,
		db:           db,
		opts:         opts,
		consolidator: consolidate.New(provider, opts.Consolidate),
	}
}

// repoBatch is the classified input of one repository.
type repoBatch struct {
	target     config.Repo
	records    []model.ChangeRecord
	classified []classify.Classified
}

// Run executes the full pipeline for the given targets. Steps completed
// before a failure are returned alongside the error. A failed run writes no
// output file.
func (p *Pipeline) Run(ctx context.Context, targets []config.Repo) (*Result, error) {
	r := &Result{Window: window(targets)}
	if p.provider == nil {
		return r, &config.ConfigError{Field: "llm", Msg: "no LLM provider available"}
	}

	batches, step := p.runFetch(ctx, targets)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r, p.fail(r, targets, step.Err)
	}

	r.Steps = append(r.Steps, p.runClassify(batches))

	outcome, step := p.runConsolidate(ctx, batches, r.Window)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r, p.fail(r, targets, step.Err)
	}
	r.Outcome = outcome

	if len(outcome.Document.Contributors) == 0 {
		outcome.Document.Contributors = contributors(batches)
	}

	r.Markdown = render.Markdown(outcome.Document, render.Options{
		Title:               p.opts.Title,
		Now:                 p.opts.Now(),
		Rules:               p.opts.Rules,
		IncludeContributors: p.opts.IncludeContributors,
	})
	output := r.Markdown
	if p.opts.Format == "html" {
		page, err := render.HTMLPage(p.title(), r.Markdown)
		if err != nil {
			r.Steps = append(r.Steps, StepResult{Name: "Render", Err: err})
			return r, p.fail(r, targets, err)
		}
		output = page
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Render",
		Summary: fmt.Sprintf("Rendered %d repos (%d chars, %s)", len(outcome.Document.Repos), len(output), p.opts.Format),
	})

	if p.opts.Outfile != "" {
		if err := WriteAtomic(p.opts.Outfile, output); err != nil {
			r.Steps = append(r.Steps, StepResult{Name: "Write", Err: err})
			return r, p.fail(r, targets, err)
		}
		r.Outfile = p.opts.Outfile
		r.Steps = append(r.Steps, StepResult{Name: "Write", Summary: "Wrote " + p.opts.Outfile})
	}

	if p.db != nil {
		step = p.runRecord(r, targets, batches)
		r.Steps = append(r.Steps, step)
		if step.Err != nil {
			return r, step.Err
		}
	}
	return r, nil
}

// DryRun fetches and classifies, then returns the prompt without calling
// the model.
func (p *Pipeline) DryRun(ctx context.Context, targets []config.Repo) (*Result, error) {
	r := &Result{Window: window(targets)}

	batches, step := p.runFetch(ctx, targets)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r, step.Err
	}
	r.Steps = append(r.Steps, p.runClassify(batches))

	msg, err := prompt.BuildUserMessage(snapshots(batches), r.Window)
	if err != nil {
		return r, err
	}
	r.Prompt = msg
	r.Steps = append(r.Steps, StepResult{
		Name:    "Consolidate",
		Summary: fmt.Sprintf("[dry-run] Would send %d chars to %s", len(msg), p.opts.Consolidate.Model),
	})
	return r, nil
}

func (p *Pipeline) runFetch(ctx context.Context, targets []config.Repo) ([]repoBatch, StepResult) {
	log.Printf("Step 1: Fetching merged PRs from %d repos...", len(targets))
	var batches []repoBatch
	total, linked := 0, 0
	for _, t := range targets {
		records, err := p.source.FetchChanges(ctx, collect.Query{
			Owner:     t.Owner,
			Name:      t.Name,
			SinceRef:  t.SinceRef,
			UntilRef:  t.UntilRef,
			SinceDate: t.SinceDate,
		})
		if err != nil {
			return nil, StepResult{Name: "Fetch", Err: err}
		}
		records, n := collect.Enrich(ctx, records, p.linker)
		batches = append(batches, repoBatch{target: t, records: records})
		total += len(records)
		linked += n
	}
	return batches, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d PRs from %d repos (%d linked stories)", total, len(targets), linked),
	}
}

func (p *Pipeline) runClassify(batches []repoBatch) StepResult {
	log.Println("Step 2: Classifying PRs...")
	totals := make(map[classify.Category]int)
	for i := range batches {
		b := &batches[i]
		b.classified = classify.ClassifyAll(b.records)
		counts := classify.Counts(b.classified)
		log.Printf("%s: %d PRs (%s)", b.target.FullName(), len(b.classified), formatCounts(counts))
		for c, n := range counts {
			totals[c] += n
		}
	}
	return StepResult{Name: "Classify", Summary: formatCounts(totals)}
}

func (p *Pipeline) runConsolidate(ctx context.Context, batches []repoBatch, w prompt.Window) (*consolidate.Outcome, StepResult) {
	log.Println("Step 3: Consolidating with the language model...")
	outcome, err := p.consolidator.Consolidate(ctx, snapshots(batches), w)
	if err != nil {
		return nil, StepResult{Name: "Consolidate", Err: err}
	}
	return outcome, StepResult{
		Name: "Consolidate",
		Summary: fmt.Sprintf("Accepted %s document on %s %d after %d calls",
			outcome.Shape, outcome.Tier, outcome.Attempt, outcome.Total()),
	}
}

func (p *Pipeline) runRecord(r *Result, targets []config.Repo, batches []repoBatch) StepResult {
	doc, err := json.Marshal(r.Outcome.Document)
	if err != nil {
		return StepResult{Name: "Record", Err: fmt.Errorf("encoding document: %w", err)}
	}
	rel := p.release(r, targets, database.StatusOK)
	rel.Calls = r.Outcome.Total()
	rel.Tier = strPtr(r.Outcome.Tier.String())
	rel.Markdown = strPtr(r.Markdown)
	rel.Document = strPtr(string(doc))
	if r.Outfile != "" {
		rel.Outfile = strPtr(r.Outfile)
	}

	var rows []database.ChangeRecord
	for _, b := range batches {
		for _, c := range b.classified {
			row := database.ChangeRecord{
				Repo:       b.target.FullName(),
				Number:     c.Record.Number,
				Title:      c.Record.Title,
				Author:     optional(c.Record.Author),
				URL:        optional(c.Record.URL),
				Category:   string(c.Category),
				Area:       optional(c.Area),
				IsBreaking: c.Breaking,
			}
			rows = append(rows, row)
		}
	}

	id, err := p.db.InsertRelease(rel, rows)
	if err != nil {
		return StepResult{Name: "Record", Err: fmt.Errorf("recording release: %w", err)}
	}
	r.ReleaseID = id
	return StepResult{Name: "Record", Summary: fmt.Sprintf("Stored release #%d with %d PRs", id, len(rows))}
}

// fail records a failed run when history is enabled and returns err.
func (p *Pipeline) fail(r *Result, targets []config.Repo, err error) error {
	if p.db == nil {
		return err
	}
	rel := p.release(r, targets, database.StatusFailed)
	rel.Error = strPtr(err.Error())
	if _, dbErr := p.db.InsertRelease(rel, nil); dbErr != nil {
		log.Printf("Failed to record failed run: %v", dbErr)
	}
	return err
}

func (p *Pipeline) release(r *Result, targets []config.Repo, status string) *database.Release {
	repos := make([]string, len(targets))
	for i, t := range targets {
		repos[i] = t.FullName()
	}
	rel := &database.Release{
		Title:  p.title(),
		Window: r.Window.Since + " → " + r.Window.Until,
		Repos:  repos,
		Status: status,
	}
	if p.opts.Consolidate.Model != "" {
		rel.Model = strPtr(p.opts.Consolidate.Model)
	}
	return rel
}

func (p *Pipeline) title() string {
	if p.opts.Title == "" {
		return render.DefaultTitle
	}
	return p.opts.Title
}

func window(targets []config.Repo) prompt.Window {
	var since, until []string
	for _, t := range targets {
		since = append(since, t.SinceRef)
		until = append(until, t.UntilRef)
	}
	return prompt.DisplayWindow(since, until, "")
}

func snapshots(batches []repoBatch) []prompt.Snapshot {
	out := make([]prompt.Snapshot, len(batches))
	for i, b := range batches {
		out[i] = prompt.Snapshot{Repo: b.target.FullName(), Records: classify.Summarize(b.classified)}
	}
	return out
}

func contributors(batches []repoBatch) []string {
	var all []model.ChangeRecord
	for _, b := range batches {
		all = append(all, b.records...)
	}
	c := collect.Contributors(all)
	if c == nil {
		return []string{}
	}
	return c
}

func formatCounts(counts map[classify.Category]int) string {
	parts := make([]string, 0, len(classify.Categories))
	for _, c := range classify.Categories {
		parts = append(parts, fmt.Sprintf("%s: %d", c, counts[c]))
	}
	return strings.Join(parts, ", ")
}

func strPtr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
