package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// GetSummary reads every database's catalog_summary.json under catalogDir,
// the response shape for get_catalog_summary(catalog_dir?).
func GetSummary(catalogDir string) ([]Summary, error) {
	entries, err := os.ReadDir(catalogDir)
	if err != nil {
		return nil, err
	}
	var summaries []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(catalogDir, e.Name(), "catalog_summary.json"))
		if err != nil {
			continue // a database directory without a summary yet just isn't reported
		}
		var s Summary
		if err := json.Unmarshal(b, &s); err != nil {
			continue
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Database < summaries[j].Database })
	return summaries, nil
}

// Search loads every database's catalog.json/catalog.jsonl under catalogDir
// and returns objects whose name contains query (case-insensitive),
// optionally filtered by kind, for search_catalog(query, kind?, limit?).
func Search(catalogDir, query, kind string, limit int) ([]Object, error) {
	entries, err := os.ReadDir(catalogDir)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	var matches []Object
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		objects, err := loadDatabaseObjects(filepath.Join(catalogDir, e.Name()))
		if err != nil {
			continue
		}
		for _, o := range objects {
			if kind != "" && o.Kind != kind {
				continue
			}
			if needle != "" && !strings.Contains(strings.ToLower(o.Name), needle) {
				continue
			}
			matches = append(matches, o)
			if limit > 0 && len(matches) >= limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}

func loadDatabaseObjects(dir string) ([]Object, error) {
	if b, err := os.ReadFile(filepath.Join(dir, "catalog.json")); err == nil {
		var objects []Object
		if err := json.Unmarshal(b, &objects); err != nil {
			return nil, err
		}
		return objects, nil
	}
	b, err := os.ReadFile(filepath.Join(dir, "catalog.jsonl"))
	if err != nil {
		return nil, err
	}
	var objects []Object
	dec := json.NewDecoder(strings.NewReader(string(b)))
	for dec.More() {
		var o Object
		if err := dec.Decode(&o); err != nil {
			return nil, err
		}
		objects = append(objects, o)
	}
	return objects, nil
}
