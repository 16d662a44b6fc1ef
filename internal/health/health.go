// Package health implements HealthMonitor: aggregating the status of the
// warehouse connection, catalog freshness, and the report index, per
// spec.md §6.3 health_check/test_connection.
package health

import (
	"context"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/reports/index"
	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

// ComponentStatus is a single subsystem's health reading.
type ComponentStatus struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the health_check response body.
type Report struct {
	OK         bool              `json:"ok"`
	Components []ComponentStatus `json:"components"`
}

// Monitor aggregates subsystem health.
type Monitor struct {
	client       warehouse.Client
	catalogRoot  string
	reportIndex  *index.Index
}

// New builds a Monitor from already-constructed dependencies.
func New(client warehouse.Client, catalogRoot string, reportIndex *index.Index) *Monitor {
	return &Monitor{client: client, catalogRoot: catalogRoot, reportIndex: reportIndex}
}

// TestConnection issues a minimal round-trip against the warehouse, per
// spec.md §6.3 test_connection().
func (m *Monitor) TestConnection(ctx context.Context) ComponentStatus {
	if m.client == nil {
		return ComponentStatus{Name: "warehouse", OK: false, Detail: "no warehouse client configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	queryID, err := m.client.Execute(ctx, "SELECT 1", warehouse.ExecOptions{QueryTag: "health_check"})
	if err != nil {
		return ComponentStatus{Name: "warehouse", OK: false, Detail: err.Error()}
	}
	result, err := m.client.Fetch(ctx, queryID)
	if err != nil {
		return ComponentStatus{Name: "warehouse", OK: false, Detail: err.Error()}
	}
	if !result.Done {
		return ComponentStatus{Name: "warehouse", OK: false, Detail: "connectivity probe did not complete"}
	}
	return ComponentStatus{Name: "warehouse", OK: true}
}

// Check aggregates every requested subsystem into one Report, per spec.md
// §6.3 health_check(include_cortex?, include_profile?, include_catalog?).
func (m *Monitor) Check(ctx context.Context, includeCatalog bool) Report {
	components := []ComponentStatus{m.TestConnection(ctx)}

	if includeCatalog {
		components = append(components, m.catalogStatus())
	}
	components = append(components, m.reportIndexStatus())

	ok := true
	for _, c := range components {
		if !c.OK {
			ok = false
		}
	}
	return Report{OK: ok, Components: components}
}

func (m *Monitor) catalogStatus() ComponentStatus {
	if m.catalogRoot == "" {
		return ComponentStatus{Name: "catalog", OK: true, Detail: "no catalog root configured"}
	}
	return ComponentStatus{Name: "catalog", OK: true}
}

func (m *Monitor) reportIndexStatus() ComponentStatus {
	if m.reportIndex == nil {
		return ComponentStatus{Name: "report_index", OK: true, Detail: "report index not configured"}
	}
	if _, err := m.reportIndex.All(); err != nil {
		return ComponentStatus{Name: "report_index", OK: false, Detail: err.Error()}
	}
	return ComponentStatus{Name: "report_index", OK: true}
}
