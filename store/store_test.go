package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStoreGetSet(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(KeyScores); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing key, got %v", err)
	}

	if err := s.Set(KeyScores, `[{"playerId":"host"}]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(KeyScores)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != `[{"playerId":"host"}]` {
		t.Errorf("Get returned %q", got)
	}

	// Overwrites replace.
	if err := s.Set(KeyScores, "[]"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = s.Get(KeyScores)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "[]" {
		t.Errorf("Get after overwrite returned %q", got)
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set(KeyPlayerName, "ada"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(KeyPlayerName); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(KeyPlayerName); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is fine.
	if err := s.Delete("nothing"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(KeySettings, `{"questionCount":10}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Get(KeySettings)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != `{"questionCount":10}` {
		t.Errorf("Get after reopen returned %q", got)
	}
}
