package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/health"
	"github.com/icebound-data/igloo-mcp/internal/reports/index"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

func TestHealthzReturnsOKWhenWarehouseHealthy(t *testing.T) {
	idx := index.New(t.TempDir(), time.Second)
	monitor := health.New(warehouse.NewFake(), "", idx)
	r := NewRouter(monitor)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body health.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode healthz response: %v", err)
	}
	if !body.OK {
		t.Errorf("expected healthy report, got %+v", body)
	}
}

func TestDebugToolsListsRegisteredTools(t *testing.T) {
	idx := index.New(t.TempDir(), time.Second)
	monitor := health.New(warehouse.NewFake(), "", idx)
	r := NewRouter(monitor)

	req := httptest.NewRequest(http.MethodGet, "/debug/tools", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode debug/tools response: %v", err)
	}
	if len(body.Tools) != len(toolNames) {
		t.Errorf("expected %d tools listed, got %d", len(toolNames), len(body.Tools))
	}
}
