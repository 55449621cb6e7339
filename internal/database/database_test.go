package database

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func sampleRelease() *Release {
	return &Release{
		Title:    "Release",
		Window:   "v1.0.0 → v1.1.0",
		Repos:    []string{"acme/api", "acme/hq"},
		Status:   StatusOK,
		Model:    ptr("gpt-5"),
		Calls:    2,
		Tier:     ptr("attempt"),
		Markdown: ptr("# Release (2026-02-06)\n"),
		Document: ptr(`{"tldr":[]}`),
		Outfile:  ptr("RELEASE_NOTES.md"),
	}
}

func sampleRecords() []ChangeRecord {
	return []ChangeRecord{
		{Repo: "acme/hq", Number: 4, Title: "fix: login", Author: ptr("ann"), Category: "Fixes"},
		{Repo: "acme/api", Number: 12, Title: "feat!: v2 routes", Category: "Features", Area: ptr("api"), IsBreaking: true},
		{Repo: "acme/api", Number: 10, Title: "chore: deps", Category: "Chore"},
	}
}

func TestInsertAndGetRelease(t *testing.T) {
	db := openTestDB(t)
	r := sampleRelease()
	id, err := db.InsertRelease(r, sampleRecords())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 || r.ID != id {
		t.Fatalf("expected release ID to be set, got %d / %d", id, r.ID)
	}

	got, err := db.GetRelease(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected release")
	}
	if got.Window != "v1.0.0 → v1.1.0" || got.Status != StatusOK || got.Calls != 2 {
		t.Errorf("unexpected release %+v", got)
	}
	if len(got.Repos) != 2 || got.Repos[1] != "acme/hq" {
		t.Errorf("unexpected repos %v", got.Repos)
	}
	if got.Markdown == nil || *got.Markdown != "# Release (2026-02-06)\n" {
		t.Error("markdown not stored")
	}
	if got.GeneratedAt == nil {
		t.Error("expected generated_at default")
	}
}

func TestGetReleaseMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetRelease(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing release")
	}
}

func TestChangeRecords(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.InsertRelease(sampleRelease(), sampleRecords())

	records, err := db.GetChangeRecords(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Repo != "acme/api" || records[0].Number != 10 {
		t.Errorf("expected ordering by repo, number; got %s#%d", records[0].Repo, records[0].Number)
	}
	if !records[1].IsBreaking || records[1].Area == nil || *records[1].Area != "api" {
		t.Errorf("unexpected record %+v", records[1])
	}

	counts, err := db.CategoryCounts(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["Features"] != 1 || counts["Fixes"] != 1 || counts["Chore"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestFailedRunAndLatest(t *testing.T) {
	db := openTestDB(t)
	okID, _ := db.InsertRelease(sampleRelease(), nil)
	failed := &Release{Title: "Release", Window: "auto → HEAD", Repos: []string{"acme/api"}, Status: StatusFailed, Error: ptr("schema validation failed")}
	if _, err := db.InsertRelease(failed, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	latest, err := db.GetLatestRelease()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest == nil || latest.ID != okID {
		t.Errorf("expected latest successful release %d, got %+v", okID, latest)
	}

	all, err := db.ListReleases(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Status != StatusFailed {
		t.Errorf("expected newest first, got %+v", all)
	}
	if all[0].Markdown != nil {
		t.Error("failed run should have no markdown")
	}

	one, _ := db.ListReleases(1)
	if len(one) != 1 {
		t.Errorf("expected limit 1, got %d", len(one))
	}
}

func TestInvalidStatusRejected(t *testing.T) {
	db := openTestDB(t)
	r := sampleRelease()
	r.Status = "pending"
	if _, err := db.InsertRelease(r, sampleRecords()); err == nil {
		t.Fatal("expected check constraint failure")
	}
	all, _ := db.ListReleases(0)
	if len(all) != 0 {
		t.Error("failed insert must not leave a release behind")
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	empty, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.Releases != 0 || empty.LastGenerated != nil {
		t.Errorf("unexpected stats on empty db %+v", empty)
	}

	db.InsertRelease(sampleRelease(), sampleRecords())
	db.InsertRelease(&Release{Title: "R", Window: "w", Status: StatusFailed, Error: ptr("boom")}, nil)

	s, err := db.GetStats()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Releases != 1 || s.FailedRuns != 1 {
		t.Errorf("expected 1 ok and 1 failed, got %+v", s)
	}
	if s.ChangeRecords != 3 || s.Repos != 2 || s.BreakingChange != 1 {
		t.Errorf("unexpected record stats %+v", s)
	}
	if s.LastGenerated == nil {
		t.Error("expected last generated timestamp")
	}
}
