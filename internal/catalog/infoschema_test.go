package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

// statementRoutedFake dispatches Fetch results by a substring match against
// the statement passed to Execute, since ListObjects issues two distinct
// queries per call and warehouse.Fake always returns the same Rows.
type statementRoutedFake struct {
	warehouse.Fake
	byContains []struct {
		contains string
		rows     []warehouse.Row
	}
	lastQueryID map[string]string
}

func (f *statementRoutedFake) Execute(ctx context.Context, statement string, opts warehouse.ExecOptions) (string, error) {
	if f.lastQueryID == nil {
		f.lastQueryID = make(map[string]string)
	}
	id := "q-" + statement
	f.lastQueryID[id] = statement
	return id, nil
}

func (f *statementRoutedFake) Fetch(ctx context.Context, queryID string) (warehouse.ExecResult, error) {
	statement := f.lastQueryID[queryID]
	for _, entry := range f.byContains {
		if strings.Contains(statement, entry.contains) {
			return warehouse.ExecResult{QueryID: queryID, Done: true, Rows: entry.rows, RowCount: int64(len(entry.rows))}, nil
		}
	}
	return warehouse.ExecResult{QueryID: queryID, Done: true}, nil
}

func TestInfoSchemaSourceListDatabases(t *testing.T) {
	fake := warehouse.NewFake()
	fake.Rows = []warehouse.Row{{"name": "ANALYTICS"}, {"name": "RAW"}}
	src := NewInfoSchemaSource(fake)

	dbs, err := src.ListDatabases(context.Background())
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(dbs) != 2 || dbs[0] != "ANALYTICS" || dbs[1] != "RAW" {
		t.Errorf("unexpected databases: %v", dbs)
	}
}

func TestInfoSchemaSourceListSchemas(t *testing.T) {
	fake := warehouse.NewFake()
	fake.Rows = []warehouse.Row{{"name": "PUBLIC"}}
	src := NewInfoSchemaSource(fake)

	schemas, err := src.ListSchemas(context.Background(), "ANALYTICS")
	if err != nil {
		t.Fatalf("ListSchemas: %v", err)
	}
	if len(schemas) != 1 || schemas[0] != "PUBLIC" {
		t.Errorf("unexpected schemas: %v", schemas)
	}
}

func TestInfoSchemaSourceListObjectsUnionsTablesAndFunctions(t *testing.T) {
	fake := &statementRoutedFake{}
	fake.byContains = []struct {
		contains string
		rows     []warehouse.Row
	}{
		{
			contains: "information_schema.tables",
			rows: []warehouse.Row{
				{"table_name": "NETWORK_EVENTS", "table_type": "BASE TABLE"},
				{"table_name": "NETWORK_SUMMARY_VIEW", "table_type": "VIEW"},
			},
		},
		{
			contains: "information_schema.functions",
			rows: []warehouse.Row{
				{"function_name": "NORMALIZE_IP", "function_language": "SQL", "is_builtin": false},
			},
		},
	}
	src := NewInfoSchemaSource(fake)

	objects, err := src.ListObjects(context.Background(), "ANALYTICS", "PUBLIC")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("expected 3 objects, got %d: %+v", len(objects), objects)
	}

	var sawTable, sawView, sawFunction bool
	for _, o := range objects {
		switch {
		case o.Name == "NETWORK_EVENTS" && o.Kind == "table":
			sawTable = true
		case o.Name == "NETWORK_SUMMARY_VIEW" && o.Kind == "view":
			sawView = true
		case o.Name == "NORMALIZE_IP" && o.Kind == "function":
			sawFunction = true
		}
		if o.Database != "ANALYTICS" || o.Schema != "PUBLIC" {
			t.Errorf("expected object scoped to ANALYTICS.PUBLIC, got %+v", o)
		}
	}
	if !sawTable || !sawView || !sawFunction {
		t.Errorf("expected a table, a view, and a function, got %+v", objects)
	}
}
