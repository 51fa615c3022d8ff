package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_PrefersSQLite(t *testing.T) {
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "kokoro.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if s.Backend() != "sqlite" {
		t.Errorf("Backend() = %q, want sqlite", s.Backend())
	}
}

func TestOpen_FallsBackWhenSQLiteUnavailable(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		// The parent directory does not exist, so SQLite cannot create the file.
		Path:         filepath.Join(dir, "missing", "kokoro.db"),
		FallbackPath: filepath.Join(dir, "kokoro.json"),
	})
	if err != nil {
		t.Fatalf("Open should not fail when the fallback works: %v", err)
	}
	defer s.Close()
	if s.Backend() != "json" {
		t.Fatalf("Backend() = %q, want json", s.Backend())
	}

	// Same API surface on the fallback.
	if _, err := s.UpsertFact(context.Background(), Fact{Key: "user.name", Value: "Alex"}); err != nil {
		t.Errorf("UpsertFact on fallback: %v", err)
	}
}

func TestOpen_ForceFallbackDerivesPath(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		Path:          filepath.Join(dir, "kokoro.db"),
		ForceFallback: true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	js, ok := s.(*JSONStore)
	if !ok {
		t.Fatalf("expected *JSONStore, got %T", s)
	}
	if want := filepath.Join(dir, "kokoro.json"); js.Path() != want {
		t.Errorf("fallback path = %q, want %q", js.Path(), want)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("expected error for empty path")
	}
}
