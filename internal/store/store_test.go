package store

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_New(t *testing.T) {
	s := newTestStore(t)
	if s == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_SaveAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, "My Book", "en", "uk", 120, 2)
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty run id")
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.ID != id || r.DocumentTitle != "My Book" || r.SourceLang != "en" || r.TargetLang != "uk" {
		t.Errorf("unexpected run: %+v", r)
	}
	if r.UnitCount != 120 || r.UnresolvedCount != 2 {
		t.Errorf("unexpected counts: %+v", r)
	}
}

func TestStore_SaveAndListExchanges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, err := s.SaveRun(ctx, "Book", "en", "de", 10, 0)
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Saved out of completion order on purpose.
	if err := s.SaveExchange(ctx, runID, "batch::ch1::to::ch2", "batch", 1, "resp-b", "", base.Add(time.Minute)); err != nil {
		t.Fatalf("failed to save exchange: %v", err)
	}
	if err := s.SaveExchange(ctx, runID, "split::ch3::part_0", "split", 2, "resp-a", "timeout", base); err != nil {
		t.Fatalf("failed to save exchange: %v", err)
	}

	exchanges, err := s.ListExchanges(ctx, runID)
	if err != nil {
		t.Fatalf("failed to list exchanges: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("expected 2 exchanges, got %d", len(exchanges))
	}
	if exchanges[0].TaskID != "split::ch3::part_0" {
		t.Errorf("exchanges not in completion order: %+v", exchanges)
	}
	if exchanges[0].Error != "timeout" || exchanges[0].Attempts != 2 {
		t.Errorf("unexpected exchange: %+v", exchanges[0])
	}
}

func TestStore_ListExchanges_ScopedToRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run1, _ := s.SaveRun(ctx, "A", "en", "fr", 1, 0)
	run2, _ := s.SaveRun(ctx, "B", "en", "fr", 1, 0)
	now := time.Now().UTC()
	s.SaveExchange(ctx, run1, "t1", "batch", 1, "r1", "", now)
	s.SaveExchange(ctx, run2, "t2", "batch", 1, "r2", "", now)

	exchanges, err := s.ListExchanges(ctx, run1)
	if err != nil {
		t.Fatalf("failed to list exchanges: %v", err)
	}
	if len(exchanges) != 1 || exchanges[0].TaskID != "t1" {
		t.Errorf("expected only run1 exchanges, got %+v", exchanges)
	}
}

func TestStore_ExportJSONL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, _ := s.SaveRun(ctx, "Book", "en", "es", 5, 1)
	now := time.Now().UTC()
	s.SaveExchange(ctx, runID, "t1", "batch", 1, "ok", "", now)
	s.SaveExchange(ctx, runID, "t2", "fix", 3, "", "gave up", now.Add(time.Second))

	var buf bytes.Buffer
	if err := s.ExportJSONL(ctx, runID, &buf); err != nil {
		t.Fatalf("failed to export: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1 is not JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line 2 is not JSON: %v", err)
	}
	if first["task_id"] != "t1" || first["response"] != "ok" {
		t.Errorf("unexpected first line: %v", first)
	}
	if _, hasErr := first["error"]; hasErr {
		t.Error("successful exchange should omit the error field")
	}
	if second["error"] != "gave up" {
		t.Errorf("unexpected second line: %v", second)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, _ := s.SaveRun(ctx, "Book", "en", "pl", 3, 1)
	now := time.Now().UTC()
	s.SaveExchange(ctx, runID, "t1", "batch", 1, "ok", "", now)
	s.SaveExchange(ctx, runID, "t2", "fix", 5, "", "failed", now)

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.TotalRuns != 1 || stats.TotalExchanges != 2 || stats.FailedTasks != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	runID, _ := s.SaveRun(ctx, "Book", "en", "it", 1, 0)
	s.SaveExchange(ctx, runID, "t1", "batch", 1, "ok", "", time.Now().UTC())

	n, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared exchange, got %d", n)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if stats.TotalRuns != 0 || stats.TotalExchanges != 0 {
		t.Errorf("store not empty after clear: %+v", stats)
	}
}
