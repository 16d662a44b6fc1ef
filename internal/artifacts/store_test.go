package artifacts

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	sql := "SELECT * FROM A.B.C LIMIT 10"
	sha, err := store.Write(sql)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := store.Read(sha)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got != sql {
		t.Errorf("round-trip mismatch: got %q want %q", got, sql)
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	sql := "SHOW TABLES"
	sha1, err := store.Write(sql)
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	sha2, err := store.Write(sql)
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if sha1 != sha2 {
		t.Errorf("expected identical sha across idempotent writes")
	}
	if !store.Exists(sha1) {
		t.Errorf("expected artifact to exist after write")
	}
}

func TestReadMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	if _, err := store.Read("deadbeef"); err == nil {
		t.Fatalf("expected error reading missing artifact")
	}
}
