// Package resultcache implements the filesystem result cache keyed by
// (profile, session context, sql_sha256), per spec.md §4.2.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest records metadata about a cached payload.
type Manifest struct {
	ExecutionID     string   `json:"execution_id"`
	SQLSha256       string   `json:"sql_sha256"`
	RowCount        int64    `json:"row_count"`
	Truncated       bool     `json:"truncated"`
	SourceDatabases []string `json:"source_databases,omitempty"`
	Tables          []string `json:"tables,omitempty"`
	QueryID         string   `json:"query_id,omitempty"`
}

// Entry is the lookup result: manifest plus the raw payload bytes (JSON rows).
type Entry struct {
	Manifest Manifest
	Payload  []byte
}

// Cache is a leaf filesystem cache: no knowledge of SQL semantics. Mode
// gating (enabled/refresh/read_only/disabled) is a per-request decision the
// caller already makes against config.CacheMode before calling Lookup/Write;
// Cache itself has no notion of a global mode.
type Cache struct {
	root    string
	maxRows int
}

// New creates a Cache rooted at cacheRoot.
func New(cacheRoot string, maxRows int) *Cache {
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &Cache{root: cacheRoot, maxRows: maxRows}
}

// Key computes the cache key for a request, per spec.md §4.2:
// H(profile ‖ warehouse ‖ database ‖ schema ‖ role ‖ sql_sha256).
func Key(profile, warehouse, database, schema, role, sqlSha256 string) string {
	h := sha256.New()
	for _, part := range []string{profile, warehouse, database, schema, role, sqlSha256} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) dirFor(key string) string { return filepath.Join(c.root, key) }

// Lookup returns a cached Entry if present. The caller is responsible for
// checking its own per-request cache mode (enabled/read_only look up;
// refresh/disabled never do) before calling Lookup.
func (c *Cache) Lookup(key string) (*Entry, bool) {
	dir := c.dirFor(key)
	manifestPath := filepath.Join(dir, "manifest.json")
	mb, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, false
	}
	var manifest Manifest
	if err := json.Unmarshal(mb, &manifest); err != nil {
		return nil, false
	}
	payloadPath := filepath.Join(dir, "payload.json")
	pb, err := os.ReadFile(payloadPath)
	if err != nil {
		return nil, false
	}
	return &Entry{Manifest: manifest, Payload: pb}, true
}

// Write stores rows (already JSON-encoded) under key, truncating at maxRows
// and recording Truncated accordingly. The caller is responsible for
// checking its own per-request cache mode (enabled/refresh write; read_only/
// disabled never do) before calling Write.
func (c *Cache) Write(key string, manifest Manifest, rows []json.RawMessage) error {
	dir := c.dirFor(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("resultcache: mkdir: %w", err)
	}

	truncatedRows := rows
	if len(rows) > c.maxRows {
		truncatedRows = rows[:c.maxRows]
		manifest.Truncated = true
	}
	manifest.RowCount = int64(len(truncatedRows))

	payload, err := json.Marshal(truncatedRows)
	if err != nil {
		return fmt.Errorf("resultcache: marshal payload: %w", err)
	}
	payloadPath := filepath.Join(dir, "payload.json")
	tmpPayload := payloadPath + ".tmp"
	if err := os.WriteFile(tmpPayload, payload, 0o644); err != nil {
		return fmt.Errorf("resultcache: write payload tmp: %w", err)
	}
	if err := os.Rename(tmpPayload, payloadPath); err != nil {
		return fmt.Errorf("resultcache: rename payload: %w", err)
	}

	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("resultcache: marshal manifest: %w", err)
	}
	manifestPath := filepath.Join(dir, "manifest.json")
	tmpManifest := manifestPath + ".tmp"
	if err := os.WriteFile(tmpManifest, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("resultcache: write manifest tmp: %w", err)
	}
	// Manifest written last, per spec.md §4.2 ("manifest last").
	if err := os.Rename(tmpManifest, manifestPath); err != nil {
		return fmt.Errorf("resultcache: rename manifest: %w", err)
	}
	return nil
}
