package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/icebound-data/igloo-mcp/internal/warehouse"
)

// InfoSchemaSource implements Source by issuing information_schema queries
// through a warehouse.Client, per spec.md §4.4's note that a real Source
// "issue[s] information_schema queries through warehouse.Client
// internally." Each call runs to completion synchronously against the
// client's own Execute/Fetch contract rather than going through
// QueryService, since catalog crawling is its own bounded-concurrency
// caller and has no need for QueryService's caching or history recording.
type InfoSchemaSource struct {
	client warehouse.Client
}

// NewInfoSchemaSource wraps a warehouse.Client as a catalog Source.
func NewInfoSchemaSource(client warehouse.Client) *InfoSchemaSource {
	return &InfoSchemaSource{client: client}
}

func (s *InfoSchemaSource) runToCompletion(ctx context.Context, statement string) ([]warehouse.Row, error) {
	queryID, err := s.client.Execute(ctx, statement, warehouse.ExecOptions{QueryTag: "catalog_crawl"})
	if err != nil {
		return nil, err
	}
	for {
		result, err := s.client.Fetch(ctx, queryID)
		if err != nil {
			return nil, err
		}
		if result.Done {
			return result.Rows, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// ListDatabases issues SHOW DATABASES.
func (s *InfoSchemaSource) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := s.runToCompletion(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("infoschema: list databases: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListSchemas issues SHOW SCHEMAS IN DATABASE <database>.
func (s *InfoSchemaSource) ListSchemas(ctx context.Context, database string) ([]string, error) {
	rows, err := s.runToCompletion(ctx, fmt.Sprintf("SHOW SCHEMAS IN DATABASE %s", database))
	if err != nil {
		return nil, fmt.Errorf("infoschema: list schemas in %s: %w", database, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// ListObjects queries information_schema.tables (views are the rows whose
// table_type is VIEW) and information_schema.functions for database.schema,
// unioning the results into Objects.
func (s *InfoSchemaSource) ListObjects(ctx context.Context, database, schema string) ([]Object, error) {
	var objects []Object

	tableRows, err := s.runToCompletion(ctx, fmt.Sprintf(
		`SELECT table_name, table_type, last_altered FROM %s.information_schema.tables WHERE table_schema = '%s'`, database, schema))
	if err != nil {
		return nil, fmt.Errorf("infoschema: list tables %s.%s: %w", database, schema, err)
	}
	for _, r := range tableRows {
		kind := "table"
		if t, _ := r["table_type"].(string); t == "VIEW" {
			kind = "view"
		}
		objects = append(objects, Object{
			Database:    database,
			Schema:      schema,
			Name:        str(r["table_name"]),
			Kind:        kind,
			LastAltered: timeOf(r["last_altered"]),
		})
	}

	routineRows, err := s.runToCompletion(ctx, fmt.Sprintf(
		`SELECT function_name, function_language, is_builtin, created FROM %s.information_schema.functions WHERE function_schema = '%s'`, database, schema))
	if err != nil {
		return nil, fmt.Errorf("infoschema: list functions %s.%s: %w", database, schema, err)
	}
	for _, r := range routineRows {
		objects = append(objects, Object{
			Database:    database,
			Schema:      schema,
			Name:        str(r["function_name"]),
			Kind:        "function",
			IsBuiltin:   boolOf(r["is_builtin"]),
			LastAltered: timeOf(r["created"]),
		})
	}

	return objects, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolOf(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "Y" || b == "YES" || b == "true"
	default:
		return false
	}
}

func timeOf(v interface{}) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}
