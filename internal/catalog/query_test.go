package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTestCatalog(t *testing.T, root, database string, objects []Object) {
	t.Helper()
	dir := filepath.Join(root, database)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(objects)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), b, 0o644); err != nil {
		t.Fatalf("write catalog.json: %v", err)
	}
	summary := summarize(database, objects)
	sb, _ := json.Marshal(summary)
	if err := os.WriteFile(filepath.Join(dir, "catalog_summary.json"), sb, 0o644); err != nil {
		t.Fatalf("write catalog_summary.json: %v", err)
	}
}

func TestGetSummaryReadsEveryDatabase(t *testing.T) {
	root := t.TempDir()
	writeTestCatalog(t, root, "ANALYTICS", []Object{{Database: "ANALYTICS", Schema: "PUBLIC", Name: "EVENTS", Kind: "table"}})
	writeTestCatalog(t, root, "RAW", []Object{{Database: "RAW", Schema: "PUBLIC", Name: "INGEST", Kind: "table"}})

	summaries, err := GetSummary(root)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 database summaries, got %d", len(summaries))
	}
	if summaries[0].Database != "ANALYTICS" || summaries[1].Database != "RAW" {
		t.Errorf("expected sorted [ANALYTICS, RAW], got %+v", summaries)
	}
	if summaries[0].Tables != 1 {
		t.Errorf("expected 1 table in ANALYTICS, got %d", summaries[0].Tables)
	}
}

func TestSearchFiltersByNameAndKind(t *testing.T) {
	root := t.TempDir()
	writeTestCatalog(t, root, "ANALYTICS", []Object{
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "NETWORK_EVENTS", Kind: "table"},
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "NETWORK_SUMMARY", Kind: "view"},
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "BILLING_EVENTS", Kind: "table"},
	})

	matches, err := Search(root, "network", "", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for 'network', got %d: %+v", len(matches), matches)
	}

	tableMatches, err := Search(root, "network", "table", 0)
	if err != nil {
		t.Fatalf("Search with kind filter: %v", err)
	}
	if len(tableMatches) != 1 || tableMatches[0].Name != "NETWORK_EVENTS" {
		t.Errorf("expected only NETWORK_EVENTS for kind=table, got %+v", tableMatches)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	root := t.TempDir()
	writeTestCatalog(t, root, "ANALYTICS", []Object{
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "A_EVENTS", Kind: "table"},
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "B_EVENTS", Kind: "table"},
		{Database: "ANALYTICS", Schema: "PUBLIC", Name: "C_EVENTS", Kind: "table"},
	})

	matches, err := Search(root, "events", "", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected limit to cap results at 2, got %d", len(matches))
	}
}
