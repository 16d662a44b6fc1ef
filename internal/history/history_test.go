package history

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.jsonl")
	l := New(path)

	l.Record(Entry{ExecutionID: "e1", Ts: time.Now().UTC(), Status: StatusSuccess, SQLSha256: "abc"})
	l.Record(Entry{ExecutionID: "e2", Ts: time.Now().UTC(), Status: StatusTimeout, SQLSha256: "def"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestDisabledLogIsNoop(t *testing.T) {
	l := New("")
	if l.Enabled() {
		t.Fatalf("expected disabled log")
	}
	l.Record(Entry{ExecutionID: "e1"}) // must not panic
}
