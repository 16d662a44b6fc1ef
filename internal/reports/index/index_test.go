package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
)

func TestAppendAndResolveByID(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, time.Second)

	entry := outline.IndexEntry{
		ReportID:     "rpt_A",
		CurrentTitle: "Weekly Revenue",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		Status:       outline.StatusActive,
		Path:         filepath.Join("by_id", "rpt_A"),
	}
	if err := idx.Append(entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, toolErr := idx.Resolve("rpt_A")
	if toolErr != nil {
		t.Fatalf("resolve failed: %v", toolErr)
	}
	if got.CurrentTitle != "Weekly Revenue" {
		t.Errorf("expected title Weekly Revenue, got %s", got.CurrentTitle)
	}
}

func TestResolveByExactTitle(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, time.Second)
	entry := outline.IndexEntry{ReportID: "rpt_B", CurrentTitle: "Churn Analysis", Status: outline.StatusActive}
	if err := idx.Append(entry); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	got, toolErr := idx.Resolve("Churn Analysis")
	if toolErr != nil {
		t.Fatalf("resolve failed: %v", toolErr)
	}
	if got.ReportID != "rpt_B" {
		t.Errorf("expected rpt_B, got %s", got.ReportID)
	}
}

func TestResolveAmbiguousFuzzyMatch(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, time.Second)
	if err := idx.Append(outline.IndexEntry{ReportID: "rpt_C1", CurrentTitle: "Revenue Q1", Status: outline.StatusActive}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := idx.Append(outline.IndexEntry{ReportID: "rpt_C2", CurrentTitle: "Revenue Q2", Status: outline.StatusActive}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	_, toolErr := idx.Resolve("revenue")
	if toolErr == nil {
		t.Fatal("expected ambiguous selector error")
	}
	if toolErr.Kind != "selector_error" || len(toolErr.Candidates) != 2 {
		t.Errorf("expected ambiguous selector_error with 2 candidates, got %+v", toolErr)
	}
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, time.Second)
	_, toolErr := idx.Resolve("does-not-exist")
	if toolErr == nil {
		t.Fatal("expected not_found selector error")
	}
}

func TestUpdateRewritesMatchingEntry(t *testing.T) {
	dir := t.TempDir()
	idx := New(dir, time.Second)
	if err := idx.Append(outline.IndexEntry{ReportID: "rpt_D", CurrentTitle: "Old Title", Status: outline.StatusActive}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	updated := outline.IndexEntry{ReportID: "rpt_D", CurrentTitle: "New Title", Status: outline.StatusActive}
	if err := idx.Update(updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	all, err := idx.All()
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 1 || all[0].CurrentTitle != "New Title" {
		t.Fatalf("expected single updated entry, got %+v", all)
	}
}

func TestRebuildFromByIDDirectories(t *testing.T) {
	dir := t.TempDir()

	reportDir := filepath.Join(dir, "by_id", "rpt_E")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ol := outline.New("default")
	b, err := json.Marshal(ol)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(reportDir, "outline.json"), b, 0o644); err != nil {
		t.Fatalf("write outline: %v", err)
	}

	idx := New(dir, time.Second)
	if err := idx.Rebuild(); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	all, err := idx.All()
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(all) != 1 || all[0].ReportID != "rpt_E" {
		t.Fatalf("expected rebuilt entry for rpt_E, got %+v", all)
	}
}
