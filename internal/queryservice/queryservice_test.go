package queryservice

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/artifacts"
	"github.com/icebound-data/igloo-mcp/internal/config"
	"github.com/icebound-data/igloo-mcp/internal/history"
	"github.com/icebound-data/igloo-mcp/internal/resultcache"
	"github.com/icebound-data/igloo-mcp/internal/sqlguard"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

func newTestService(t *testing.T, client warehouse.Client) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		MinQueryTimeoutSeconds: 1,
		MaxQueryTimeoutSeconds: 3600,
		MinReasonLength:        5,
		MaxReasonLength:        200,
		MaxSQLStatementLength:  1_000_000,
	}
	artifactStore := artifacts.New(filepath.Join(dir, "artifacts"))
	hist := history.New(filepath.Join(dir, "doc.jsonl"))
	cache := resultcache.New(filepath.Join(dir, "cache"), 5000)
	return New(cfg, sqlguard.DefaultPolicy(), client, artifactStore, hist, cache)
}

func TestExecuteSuccessPopulatesCache(t *testing.T) {
	client := &warehouse.Fake{Rows: []warehouse.Row{{"a": 1.0}}}
	svc := newTestService(t, client)

	req := Request{Statement: "SELECT * FROM A.B.C LIMIT 10", Reason: "testing", TimeoutSeconds: 5, CacheMode: config.CacheEnabled}
	result := svc.Execute(context.Background(), req)
	if result.Status != history.StatusSuccess {
		t.Fatalf("expected success, got %s (err=%v)", result.Status, result.Error)
	}
	if result.RowCount != 1 {
		t.Errorf("expected 1 row, got %d", result.RowCount)
	}

	// Second call should be a cache hit.
	result2 := svc.Execute(context.Background(), req)
	if result2.Status != history.StatusCacheHit {
		t.Errorf("expected cache_hit on second call, got %s", result2.Status)
	}
}

func TestExecuteDeniedStatement(t *testing.T) {
	client := &warehouse.Fake{}
	svc := newTestService(t, client)

	req := Request{Statement: "TRUNCATE TABLE foo", Reason: "testing", TimeoutSeconds: 5}
	result := svc.Execute(context.Background(), req)
	if result.Status != history.StatusError {
		t.Fatalf("expected error status for denied statement, got %s", result.Status)
	}
	if result.Error == nil || len(result.Error.SafeAlternatives) == 0 {
		t.Errorf("expected denied error with safe alternatives")
	}
}

func TestExecuteShortReasonValidationFailed(t *testing.T) {
	client := &warehouse.Fake{}
	svc := newTestService(t, client)

	req := Request{Statement: "SELECT 1", Reason: "hi", TimeoutSeconds: 5}
	result := svc.Execute(context.Background(), req)
	if result.Error == nil {
		t.Fatalf("expected validation error for short reason")
	}
}

func TestExecuteTimeoutPopulatesGuidance(t *testing.T) {
	client := &warehouse.Fake{Delay: 2 * time.Second}
	svc := newTestService(t, client)

	req := Request{Statement: "SELECT * FROM A.B.C", Reason: "testing timeout", TimeoutSeconds: 1}
	result := svc.Execute(context.Background(), req)
	if result.Status != history.StatusTimeout {
		t.Fatalf("expected timeout status, got %s", result.Status)
	}
	if result.Error == nil {
		t.Fatalf("expected a populated error on timeout")
	}
	want := []string{"catalog_filter", "clustering_keys", "increase_timeout"}
	if !reflect.DeepEqual(result.Error.Guidance, want) {
		t.Errorf("expected guidance %v, got %v", want, result.Error.Guidance)
	}
}

func TestExecuteCommentPrefixedShowIsAllowed(t *testing.T) {
	client := &warehouse.Fake{}
	svc := newTestService(t, client)

	req := Request{Statement: "-- note\n  SHOW TABLES IN SCHEMA X.Y", Reason: "audit run", TimeoutSeconds: 5}
	result := svc.Execute(context.Background(), req)
	if result.Status != history.StatusSuccess {
		t.Fatalf("expected success, got %s (err=%v)", result.Status, result.Error)
	}
}
