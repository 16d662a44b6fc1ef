package storage

import (
	"os"
	"testing"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
)

func TestCreateReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second)

	ol := outline.New("default")
	if err := s.Create("rpt_A", ol, "req-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.Read("rpt_A")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	events, err := s.ReadAudit("rpt_A", 0)
	if err != nil {
		t.Fatalf("read audit failed: %v", err)
	}
	if len(events) != 1 || events[0].ActionType != outline.ActionCreate {
		t.Fatalf("expected single create audit event, got %+v", events)
	}
}

func TestMutateBumpsVersionAndBackups(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second)
	ol := outline.New("default")
	if err := s.Create("rpt_B", ol, "req-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	next, err := s.Mutate("rpt_B", "req-2", outline.ActionEvolve, outline.ActorAgent, func(current *outline.Outline) (*outline.Outline, interface{}, error) {
		updated := current.Clone()
		updated.Sections = append(updated.Sections, outline.Section{SectionID: "sec-1", Title: "S1"})
		updated.Version++
		return updated, map[string]int{"sections_added": 1}, nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if next.Version != 2 {
		t.Errorf("expected version 2, got %d", next.Version)
	}

	events, _ := s.ReadAudit("rpt_B", 0)
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}

	backups, err := os.ReadDir(s.backupsDir("rpt_B"))
	if err != nil || len(backups) != 2 {
		t.Errorf("expected 2 backups (create + mutate), got %d (err=%v)", len(backups), err)
	}
}

func TestRevertRestoresPriorState(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second)
	ol := outline.New("default")
	if err := s.Create("rpt_C", ol, "req-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err := s.Mutate("rpt_C", "req-2", outline.ActionEvolve, outline.ActorAgent, func(current *outline.Outline) (*outline.Outline, interface{}, error) {
		updated := current.Clone()
		updated.Sections = append(updated.Sections, outline.Section{SectionID: "sec-1", Title: "S1"})
		updated.Version++
		return updated, nil, nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	events, _ := s.ReadAudit("rpt_C", 0)
	evolveEvent := events[len(events)-1]

	reverted, err := s.Revert("rpt_C", evolveEvent.ActionID, "req-3")
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if len(reverted.Sections) != 0 {
		t.Errorf("expected sections empty after revert, got %d", len(reverted.Sections))
	}
	if reverted.Version != 3 {
		t.Errorf("expected version 3 after revert, got %d", reverted.Version)
	}
}

func TestCrashRecoveryDiscardsLeftoverTmp(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Second)
	ol := outline.New("default")
	if err := s.Create("rpt_D", ol, "req-1"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Simulate a crash mid-write by leaving a stray tmp file behind.
	if err := writeFsync(s.outlinePath("rpt_D")+".tmp", []byte("{corrupt")); err != nil {
		t.Fatalf("seed tmp: %v", err)
	}

	got, err := s.Read("rpt_D")
	if err != nil {
		t.Fatalf("expected read to succeed by discarding stray tmp: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected recovered version 1, got %d", got.Version)
	}
}
