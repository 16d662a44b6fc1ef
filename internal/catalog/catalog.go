// Package catalog implements the bounded-concurrency information-schema
// crawler and the dependency graph derived from its output, per spec.md
// §4.4. Background-refresh-plus-JSON-cache-file structure is grounded
// directly on the teacher's internal/catalog.Catalog (fetchLiteLLMData,
// loadCache/saveCache); the bounded worker pool generalizes the teacher's
// internal/process.portAllocator mutex-guarded resource pool into a
// semaphore-bounded crawl.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog/log"
)

// Format selects the on-disk encoding for catalog objects.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// Column describes one table/view column, including its DDL fragment.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	DDL  string `json:"ddl,omitempty"`
}

// Object is one catalog entry: a table, view, function, or procedure.
type Object struct {
	Database    string    `json:"database"`
	Schema      string    `json:"schema"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"` // table | view | function | procedure
	Columns     []Column  `json:"columns,omitempty"`
	DDL         string    `json:"ddl,omitempty"`
	LastAltered time.Time `json:"last_altered"`
	IsBuiltin   bool      `json:"-"` // never persisted; filtered before write
}

// Warning is a structured per-object failure, per spec.md §4.4 failure model.
type Warning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Context  string `json:"context,omitempty"`
}

// Source is the narrow interface the catalog crawler consumes to discover
// and describe warehouse objects. It is deliberately separate from
// warehouse.Client: information-schema crawling needs structured
// enumeration (ListDatabases/ListSchemas/ListObjects), not ad-hoc SQL
// execution, so it is specified as its own external collaborator boundary
// (implementations are expected to issue information_schema queries
// through warehouse.Client internally).
type Source interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListSchemas(ctx context.Context, database string) ([]string, error)
	ListObjects(ctx context.Context, database, schema string) ([]Object, error)
}

// BuildPlan describes a crawl request, per spec.md §4.4.
type BuildPlan struct {
	Scope       string // "account" or a database name
	OutputDir   string
	Format      Format
	Incremental bool
}

// Summary is written to catalog_summary.json per database.
type Summary struct {
	Database    string    `json:"database"`
	Schemas     int       `json:"schemas"`
	Tables      int       `json:"tables"`
	Views       int       `json:"views"`
	Functions   int       `json:"functions"`
	Procedures  int       `json:"procedures"`
	LastBuild   time.Time `json:"last_build"`
}

// perDatabaseMetadata is the incremental-refresh bookkeeping file.
type perDatabaseMetadata struct {
	LastBuild       time.Time `json:"last_build"`
	LastFullRefresh time.Time `json:"last_full_refresh"`
}

// Service crawls information-schema with a bounded worker pool.
type Service struct {
	source             Source
	catalogConcurrency int64
	maxDDLConcurrency  int64
}

// New creates a catalog Service. catalogConcurrency bounds the overall
// worker pool width; maxDDLConcurrency further throttles overlapping
// warehouse-side DDL fetches, per spec.md §4.4.
func New(source Source, catalogConcurrency, maxDDLConcurrency int) *Service {
	if catalogConcurrency <= 0 {
		catalogConcurrency = 16
	}
	if maxDDLConcurrency <= 0 {
		maxDDLConcurrency = 8
	}
	return &Service{
		source:             source,
		catalogConcurrency: int64(catalogConcurrency),
		maxDDLConcurrency:  int64(maxDDLConcurrency),
	}
}

// Result is the response to build_catalog.
type Result struct {
	DatabasesBuilt []string
	Warnings       []Warning
}

// Build runs the crawl plan end to end: enumerate → fetch (bounded,
// parallel) → filter built-ins → write three files per database.
func (s *Service) Build(ctx context.Context, plan BuildPlan) (Result, error) {
	databases, err := s.databasesForScope(ctx, plan.Scope)
	if err != nil {
		return Result{}, fmt.Errorf("catalog: enumerate databases: %w", err)
	}

	result := Result{}
	ddlSem := semaphore.NewWeighted(s.maxDDLConcurrency)

	for _, db := range databases {
		objects, warnings, err := s.crawlDatabase(ctx, db, ddlSem, plan.Incremental, plan.OutputDir)
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{
				Code: "database_crawl_failed", Message: err.Error(), Severity: "error", Context: db,
			})
			continue
		}
		result.Warnings = append(result.Warnings, warnings...)

		if err := s.writeDatabaseCatalog(plan.OutputDir, db, objects, plan.Format); err != nil {
			result.Warnings = append(result.Warnings, Warning{
				Code: "write_failed", Message: err.Error(), Severity: "error", Context: db,
			})
			continue
		}
		result.DatabasesBuilt = append(result.DatabasesBuilt, db)
	}

	return result, nil
}

func (s *Service) databasesForScope(ctx context.Context, scope string) ([]string, error) {
	if scope == "" || scope == "account" {
		return s.source.ListDatabases(ctx)
	}
	return []string{scope}, nil
}

// crawlDatabase enumerates schemas first, then runs a bounded worker pool
// (errgroup + catalog-wide semaphore, with a second semaphore throttling
// warehouse-side DDL concurrency) to fetch each schema's objects.
func (s *Service) crawlDatabase(ctx context.Context, database string, ddlSem *semaphore.Weighted, incremental bool, outputDir string) ([]Object, []Warning, error) {
	schemas, err := s.source.ListSchemas(ctx, database)
	if err != nil {
		return nil, nil, fmt.Errorf("list schemas: %w", err)
	}

	var meta *perDatabaseMetadata
	if incremental {
		meta = loadMetadata(outputDir, database)
	}

	g, gctx := errgroup.WithContext(ctx)
	poolSem := semaphore.NewWeighted(s.catalogConcurrency)

	type partial struct {
		objects  []Object
		warnings []Warning
	}
	results := make([]partial, len(schemas))

	for i, schema := range schemas {
		i, schema := i, schema
		g.Go(func() error {
			if err := poolSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer poolSem.Release(1)
			if err := ddlSem.Acquire(gctx, 1); err != nil {
				return err
			}
			objects, err := s.source.ListObjects(gctx, database, schema)
			ddlSem.Release(1)
			if err != nil {
				results[i] = partial{warnings: []Warning{{
					Code: "schema_fetch_failed", Message: err.Error(), Severity: "warning", Context: database + "." + schema,
				}}}
				return nil // per-object failures don't fail the whole build
			}

			filtered := make([]Object, 0, len(objects))
			for _, o := range objects {
				if o.IsBuiltin {
					continue // functions filtered to user-defined only, spec.md §4.4
				}
				if meta != nil && !o.LastAltered.After(meta.LastBuild) {
					continue // incremental refresh: skip unchanged objects
				}
				filtered = append(filtered, o)
			}
			results[i] = partial{objects: filtered}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var objects []Object
	var warnings []Warning
	for _, r := range results {
		objects = append(objects, r.objects...)
		warnings = append(warnings, r.warnings...)
	}
	return objects, warnings, nil
}

func (s *Service) writeDatabaseCatalog(outputDir, database string, objects []Object, format Format) error {
	dir := filepath.Join(outputDir, database)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	catalogName := "catalog." + string(format)
	catalogPath := filepath.Join(dir, catalogName)
	tmp := catalogPath + ".tmp"

	if format == FormatJSONL {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(f)
		for _, o := range objects {
			if err := enc.Encode(o); err != nil {
				f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	} else {
		b, err := json.MarshalIndent(objects, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, catalogPath); err != nil {
		return err
	}

	summary := summarize(database, objects)
	if err := writeJSONAtomic(filepath.Join(dir, "catalog_summary.json"), summary); err != nil {
		return err
	}

	meta := perDatabaseMetadata{LastBuild: time.Now().UTC(), LastFullRefresh: time.Now().UTC()}
	if err := writeJSONAtomic(filepath.Join(dir, "_catalog_metadata.json"), meta); err != nil {
		return err
	}

	log.Info().Str("database", database).Int("objects", len(objects)).Msg("catalog: database build complete")
	return nil
}

func summarize(database string, objects []Object) Summary {
	s := Summary{Database: database, LastBuild: time.Now().UTC()}
	schemaSet := map[string]bool{}
	for _, o := range objects {
		schemaSet[o.Schema] = true
		switch o.Kind {
		case "table":
			s.Tables++
		case "view":
			s.Views++
		case "function":
			s.Functions++
		case "procedure":
			s.Procedures++
		}
	}
	s.Schemas = len(schemaSet)
	return s
}

func writeJSONAtomic(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func loadMetadata(outputDir, database string) *perDatabaseMetadata {
	b, err := os.ReadFile(filepath.Join(outputDir, database, "_catalog_metadata.json"))
	if err != nil {
		return nil
	}
	var meta perDatabaseMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil
	}
	return &meta
}

// sortedKeys is a small helper used by DependencyGraph for deterministic
// output ordering.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
