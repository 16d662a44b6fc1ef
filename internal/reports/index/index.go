// Package index implements the global ReportIndex: a JSONL registry of
// reports, rebuildable from the filesystem if corrupt, per spec.md §4.5/§2.
package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/icebound-data/igloo-mcp/internal/reports/outline"
	"github.com/icebound-data/igloo-mcp/internal/toolerr"
)

// Index owns reportsRoot/index.jsonl.
type Index struct {
	root        string
	lockTimeout time.Duration
}

// New creates an Index rooted at reportsRoot.
func New(reportsRoot string, lockTimeout time.Duration) *Index {
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Index{root: reportsRoot, lockTimeout: lockTimeout}
}

func (idx *Index) path() string     { return filepath.Join(idx.root, "index.jsonl") }
func (idx *Index) lockPath() string { return filepath.Join(idx.root, "index.lock") }

func (idx *Index) withLock(fn func() error) error {
	if err := os.MkdirAll(idx.root, 0o755); err != nil {
		return fmt.Errorf("index: mkdir: %w", err)
	}
	fl := flock.New(idx.lockPath())
	deadline := time.Now().Add(idx.lockTimeout)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("index: lock error: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return toolerr.New(toolerr.LockTimeout, "could not acquire report index lock")
		}
		time.Sleep(25 * time.Millisecond)
	}
	defer fl.Unlock()
	return fn()
}

// All returns every entry currently registered, in file order.
func (idx *Index) All() ([]outline.IndexEntry, error) {
	b, err := os.ReadFile(idx.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, toolerr.New(toolerr.IOError, fmt.Sprintf("read index: %v", err))
	}
	var entries []outline.IndexEntry
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var e outline.IndexEntry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Append registers a new report. Mutating operations on the index file are
// protected by its own lock, per spec.md §5.
func (idx *Index) Append(entry outline.IndexEntry) error {
	return idx.withLock(func() error {
		f, err := os.OpenFile(idx.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return toolerr.New(toolerr.IOError, fmt.Sprintf("open index: %v", err))
		}
		defer f.Close()
		b, err := json.Marshal(entry)
		if err != nil {
			return toolerr.New(toolerr.IOError, fmt.Sprintf("marshal index entry: %v", err))
		}
		b = append(b, '\n')
		if _, err := f.Write(b); err != nil {
			return toolerr.New(toolerr.IOError, fmt.Sprintf("append index entry: %v", err))
		}
		return f.Sync()
	})
}

// Update rewrites the full index with entries whose ReportID matches
// updated applied in place; used after rename/tag/status-change operations.
func (idx *Index) Update(updated outline.IndexEntry) error {
	return idx.withLock(func() error {
		entries, err := idx.allUnlocked()
		if err != nil {
			return err
		}
		found := false
		for i := range entries {
			if entries[i].ReportID == updated.ReportID {
				entries[i] = updated
				found = true
				break
			}
		}
		if !found {
			entries = append(entries, updated)
		}
		return idx.rewriteUnlocked(entries)
	})
}

func (idx *Index) allUnlocked() ([]outline.IndexEntry, error) {
	return idx.All()
}

func (idx *Index) rewriteUnlocked(entries []outline.IndexEntry) error {
	tmp := idx.path() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("create index tmp: %v", err))
	}
	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return toolerr.New(toolerr.IOError, fmt.Sprintf("encode index entry: %v", err))
		}
	}
	if err := f.Close(); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("close index tmp: %v", err))
	}
	if err := os.Rename(tmp, idx.path()); err != nil {
		return toolerr.New(toolerr.IOError, fmt.Sprintf("rename index: %v", err))
	}
	return nil
}

// Rebuild reconciles the index against by_id/ on disk — used when the
// index file is missing or its contents look corrupt/drifted.
func (idx *Index) Rebuild() error {
	return idx.withLock(func() error {
		byIDDir := filepath.Join(idx.root, "by_id")
		entries, err := os.ReadDir(byIDDir)
		if err != nil {
			if os.IsNotExist(err) {
				return idx.rewriteUnlocked(nil)
			}
			return toolerr.New(toolerr.IOError, fmt.Sprintf("list by_id: %v", err))
		}

		var rebuilt []outline.IndexEntry
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			reportID := e.Name()
			outlinePath := filepath.Join(byIDDir, reportID, "outline.json")
			b, err := os.ReadFile(outlinePath)
			if err != nil {
				continue
			}
			var ol outline.Outline
			if err := json.Unmarshal(b, &ol); err != nil {
				continue
			}
			rebuilt = append(rebuilt, outline.IndexEntry{
				ReportID:     reportID,
				CurrentTitle: ol.Metadata.Tags["title"],
				Tags:         sortedKeys(ol.Metadata.Tags),
				Status:       outline.StatusActive,
				Path:         filepath.Join("by_id", reportID),
			})
		}
		sort.Slice(rebuilt, func(i, j int) bool { return rebuilt[i].ReportID < rebuilt[j].ReportID })
		return idx.rewriteUnlocked(rebuilt)
	})
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve finds a report by exact id, exact title, or case-insensitive
// substring title match, returning a selector_error on not_found/ambiguous.
func (idx *Index) Resolve(selector string) (*outline.IndexEntry, *toolerr.ToolError) {
	entries, err := idx.All()
	if err != nil {
		return nil, toolerr.New(toolerr.IOError, err.Error())
	}

	for i := range entries {
		if entries[i].ReportID == selector {
			return &entries[i], nil
		}
	}
	var exactTitle []outline.IndexEntry
	for _, e := range entries {
		if e.CurrentTitle == selector {
			exactTitle = append(exactTitle, e)
		}
	}
	if len(exactTitle) == 1 {
		return &exactTitle[0], nil
	}
	if len(exactTitle) > 1 {
		return nil, toolerr.Ambiguous(selector, idsOf(exactTitle))
	}

	var fuzzy []outline.IndexEntry
	lowerSel := strings.ToLower(selector)
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.CurrentTitle), lowerSel) {
			fuzzy = append(fuzzy, e)
		}
	}
	switch len(fuzzy) {
	case 0:
		return nil, toolerr.NotFound(selector)
	case 1:
		return &fuzzy[0], nil
	default:
		return nil, toolerr.Ambiguous(selector, idsOf(fuzzy))
	}
}

func idsOf(entries []outline.IndexEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ReportID
	}
	return out
}
