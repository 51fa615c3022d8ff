package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "kokoro-test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v < 1 {
		t.Errorf("schema version = %d, want >= 1", v)
	}
	if err := s.Probe(ctx); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")
	s1, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s1.DB().Exec(`INSERT INTO kv (key, value, updated_ts) VALUES ('a', 'b', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s1.Close()

	s2, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	var value string
	if err := s2.DB().QueryRow(`SELECT value FROM kv WHERE key = 'a'`).Scan(&value); err != nil {
		t.Fatalf("select: %v", err)
	}
	if value != "b" {
		t.Errorf("value = %q, want b", value)
	}
}

func TestOpen_MissingDirectoryFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "nested", "kokoro.db")
	if s, err := Open(context.Background(), path, nil); err == nil {
		s.Close()
		t.Fatal("expected an error for a missing directory")
	}
}

func TestNotesUniqueConstraint(t *testing.T) {
	db := newTestStore(t).DB()
	if _, err := db.Exec(`INSERT INTO memory_notes (kind, content, created_ts, updated_ts) VALUES ('note', 'x', 1, 1)`); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO memory_notes (kind, content, created_ts, updated_ts) VALUES ('note', 'x', 2, 2)`); err == nil {
		t.Fatal("expected UNIQUE(kind, content) violation")
	}
}

func TestParseMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_facts.sql": {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/0001_init.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/README.md":      {Data: []byte("notes")},
		"m/draft.sql":      {Data: []byte("-- no version")},
	}
	got, err := parseMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("parseMigrations: %v", err)
	}
	if len(got) != 2 || got[0].version != 1 || got[1].version != 2 || got[1].name != "0002_facts.sql" {
		t.Errorf("migrations = %+v", got)
	}

	fsys["m/0002_other.sql"] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	if _, err := parseMigrations(fsys, "m"); err == nil || !strings.Contains(err.Error(), "version 2") {
		t.Errorf("duplicate version err = %v", err)
	}
}
