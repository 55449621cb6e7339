package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/rlsnotes/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

const notes = "# Weekly (2026-02-06)\n\n**API**\n- :sparkles: Add checkout [PR #12](https://github.com/acme/api/pull/12)\n"

func insertRelease(t *testing.T, db *database.DB) int64 {
	t.Helper()
	id, err := db.InsertRelease(&database.Release{
		Title:    "Weekly",
		Window:   "v1.0.0 → v1.1.0",
		Repos:    []string{"acme/api"},
		Status:   database.StatusOK,
		Model:    ptr("gpt-5"),
		Calls:    1,
		Tier:     ptr("attempt"),
		Markdown: ptr(notes),
	}, []database.ChangeRecord{
		{Repo: "acme/api", Number: 12, Title: "feat: add checkout", Author: ptr("ann"), URL: ptr("https://github.com/acme/api/pull/12"), Category: "Features"},
	})
	if err != nil {
		t.Fatalf("failed to insert release: %v", err)
	}
	return id
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func newServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newServer(t, db)

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No releases yet") {
		t.Error("expected empty state in response body")
	}

	insertRelease(t, db)
	rec = get(t, srv, "/")
	body := rec.Body.String()
	if !strings.Contains(body, "acme/api") || !strings.Contains(body, "v1.0.0 → v1.1.0") {
		t.Error("expected release row in index")
	}
}

func TestReleaseRoute(t *testing.T) {
	db := openTestDB(t)
	id := insertRelease(t, db)
	srv := newServer(t, db)

	rec := get(t, srv, fmt.Sprintf("/releases/%d", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>API</strong>") {
		t.Error("expected rendered markdown in response")
	}
	if !strings.Contains(body, "feat: add checkout") {
		t.Error("expected change record in response")
	}
	if !strings.Contains(body, "Features: 1") {
		t.Error("expected category counts in response")
	}
}

func TestRawMarkdownRoute(t *testing.T) {
	db := openTestDB(t)
	id := insertRelease(t, db)
	srv := newServer(t, db)

	rec := get(t, srv, fmt.Sprintf("/releases/%d.md", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != notes {
		t.Errorf("expected stored markdown, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestFailedReleaseRoute(t *testing.T) {
	db := openTestDB(t)
	id, _ := db.InsertRelease(&database.Release{
		Title:  "Release",
		Window: "auto → HEAD",
		Repos:  []string{"acme/api"},
		Status: database.StatusFailed,
		Error:  ptr("schema validation failed after repair"),
	}, nil)
	srv := newServer(t, db)

	rec := get(t, srv, fmt.Sprintf("/releases/%d", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "schema validation failed after repair") {
		t.Error("expected error message on failed run page")
	}

	rec = get(t, srv, fmt.Sprintf("/releases/%d.md", id))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for failed run markdown, got %d", rec.Code)
	}
}

func TestMissingRelease(t *testing.T) {
	srv := newServer(t, openTestDB(t))

	for _, path := range []string{"/releases/99", "/releases/abc", "/nope"} {
		if rec := get(t, srv, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestLatestRedirect(t *testing.T) {
	db := openTestDB(t)
	srv := newServer(t, db)

	rec := get(t, srv, "/latest")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Errorf("expected redirect to index, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	id := insertRelease(t, db)
	rec = get(t, srv, "/latest")
	want := fmt.Sprintf("/releases/%d", id)
	if rec.Header().Get("Location") != want {
		t.Errorf("expected redirect to %s, got %q", want, rec.Header().Get("Location"))
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newServer(t, openTestDB(t))

	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, db, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
