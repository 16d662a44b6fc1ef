package health

import (
	"context"
	"testing"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/reports/index"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

func TestTestConnectionSuccess(t *testing.T) {
	client := warehouse.NewFake()
	m := New(client, "", nil)
	status := m.TestConnection(context.Background())
	if !status.OK {
		t.Errorf("expected healthy warehouse status, got %+v", status)
	}
}

func TestCheckAggregatesComponents(t *testing.T) {
	client := warehouse.NewFake()
	idx := index.New(t.TempDir(), time.Second)
	m := New(client, "some/catalog/root", idx)

	report := m.Check(context.Background(), true)
	if !report.OK {
		t.Fatalf("expected overall healthy report, got %+v", report)
	}
	if len(report.Components) != 3 {
		t.Errorf("expected 3 components (warehouse, catalog, report_index), got %d", len(report.Components))
	}
}
