package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/planner"
)

func newTestServer(t *testing.T) (*Server, *planner.Store, *planner.PaperLog) {
	t.Helper()
	dir := t.TempDir()
	sessions, err := planner.NewStore(filepath.Join(dir, "sessions"))
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	papers, err := planner.NewPaperLog(filepath.Join(dir, "papers.jsonl"))
	if err != nil {
		t.Fatalf("new paper log: %v", err)
	}
	return New(sessions, papers), sessions, papers
}

func TestListSessions(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	s := planner.NewSession("test retrieval quality", 2)
	if err := sessions.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("CORS header = %q", got)
	}
	var body struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0] != s.ID {
		t.Fatalf("sessions = %v, want [%s]", body.Sessions, s.ID)
	}
}

func TestGetSessionSnapshot(t *testing.T) {
	srv, sessions, _ := newTestServer(t)
	s := planner.NewSession("test retrieval quality", 2)
	s.Status = planner.StatusComplete
	s.RoundsCompleted = 2
	s.Findings = []core.Finding{{Question: "q", Answer: "a", Citations: []core.Citation{{PaperID: "p1", PageFrom: 3}}}}
	if err := sessions.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/" + s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got planner.Session
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != planner.StatusComplete || got.RoundsCompleted != 2 || len(got.Findings) != 1 {
		t.Fatalf("snapshot = %s/%d/%d findings", got.Status, got.RoundsCompleted, len(got.Findings))
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sessions/no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("404 body should carry an error message")
	}
}

func TestListPapers(t *testing.T) {
	srv, _, papers := newTestServer(t)
	err := papers.Append([]core.Paper{
		{ID: "p1", Title: "First", URL: "https://example.org/p1"},
		{ID: "p2", Title: "Second", URL: "https://example.org/p2"},
		{ID: "p1", Title: "First (revised)", URL: "https://example.org/p1"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/papers")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Papers []core.Paper `json:"papers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Papers) != 2 {
		t.Fatalf("papers = %d, want 2 after dedup", len(body.Papers))
	}
	if body.Papers[0].Title != "First (revised)" {
		t.Fatalf("latest record should win, got %q", body.Papers[0].Title)
	}
}
