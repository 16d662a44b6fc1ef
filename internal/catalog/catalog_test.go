package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeSource struct {
	databases []string
	schemas   map[string][]string
	objects   map[string][]Object // key: database.schema
}

func (f *fakeSource) ListDatabases(ctx context.Context) ([]string, error) {
	return f.databases, nil
}

func (f *fakeSource) ListSchemas(ctx context.Context, database string) ([]string, error) {
	return f.schemas[database], nil
}

func (f *fakeSource) ListObjects(ctx context.Context, database, schema string) ([]Object, error) {
	return f.objects[database+"."+schema], nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		databases: []string{"DB1"},
		schemas:   map[string][]string{"DB1": {"PUBLIC"}},
		objects: map[string][]Object{
			"DB1.PUBLIC": {
				{Database: "DB1", Schema: "PUBLIC", Name: "T1", Kind: "table", LastAltered: time.Now()},
				{Database: "DB1", Schema: "PUBLIC", Name: "BUILTIN_FN", Kind: "function", IsBuiltin: true, LastAltered: time.Now()},
			},
		},
	}
}

func TestBuildWritesThreeFilesPerDatabase(t *testing.T) {
	dir := t.TempDir()
	svc := New(newFakeSource(), 4, 2)

	result, err := svc.Build(context.Background(), BuildPlan{Scope: "account", OutputDir: dir, Format: FormatJSON})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(result.DatabasesBuilt) != 1 {
		t.Fatalf("expected 1 database built, got %d", len(result.DatabasesBuilt))
	}

	for _, name := range []string{"catalog.json", "catalog_summary.json", "_catalog_metadata.json"} {
		if _, err := os.Stat(filepath.Join(dir, "DB1", name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestBuildFiltersBuiltinFunctions(t *testing.T) {
	dir := t.TempDir()
	svc := New(newFakeSource(), 4, 2)

	if _, err := svc.Build(context.Background(), BuildPlan{Scope: "account", OutputDir: dir, Format: FormatJSON}); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "DB1", "catalog.json"))
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	if contains(string(b), "BUILTIN_FN") {
		t.Errorf("expected built-in function to be filtered out")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestDependencyGraphFromDDLReferences(t *testing.T) {
	objects := []Object{
		{Database: "DB1", Schema: "PUBLIC", Name: "VIEW1", Kind: "view", DDL: "CREATE VIEW DB1.PUBLIC.VIEW1 AS SELECT * FROM DB1.PUBLIC.T1"},
		{Database: "DB1", Schema: "PUBLIC", Name: "T1", Kind: "table", DDL: "CREATE TABLE DB1.PUBLIC.T1 (id INT)"},
	}
	g := BuildDependencyGraph(objects)
	b, err := g.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if !contains(string(b), "DB1.PUBLIC.T1") {
		t.Errorf("expected dependency edge to T1 in graph output")
	}
}
