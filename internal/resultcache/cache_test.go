package resultcache

import (
	"encoding/json"
	"testing"
)

func rows(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(`{"a":1}`)
	}
	return out
}

func TestWriteLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 5000)
	key := Key("default", "WH", "DB", "SCHEMA", "ROLE", "sha123")

	if err := c.Write(key, Manifest{ExecutionID: "e1", SQLSha256: "sha123"}, rows(3)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entry, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if entry.Manifest.RowCount != 3 {
		t.Errorf("expected row count 3, got %d", entry.Manifest.RowCount)
	}
	if entry.Manifest.Truncated {
		t.Errorf("did not expect truncation")
	}
}

func TestWriteTruncatesAtMaxRows(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 2)
	key := Key("default", "WH", "DB", "SCHEMA", "ROLE", "sha456")

	if err := c.Write(key, Manifest{SQLSha256: "sha456"}, rows(5)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	entry, ok := c.Lookup(key)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !entry.Manifest.Truncated {
		t.Errorf("expected truncated=true")
	}
	if entry.Manifest.RowCount != 2 {
		t.Errorf("expected row count capped at 2, got %d", entry.Manifest.RowCount)
	}
}

func TestLookupMissingKeyIsNotAHit(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, 5000)
	if _, ok := c.Lookup(Key("default", "WH", "DB", "SCHEMA", "ROLE", "nope")); ok {
		t.Errorf("expected no hit for a key that was never written")
	}
}
