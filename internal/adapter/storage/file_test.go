package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestFileStore_SetGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if err := s.Set(KeyCredential, "token-123"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(KeyCredential)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "token-123" {
		t.Fatalf("Get: got %q want %q", got, "token-123")
	}

	if err := s.Remove(KeyCredential); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(KeyCredential); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get after Remove: got %v want ErrKeyNotFound", err)
	}
}

func TestFileStore_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s1.Set(KeyIdentity, `{"driver_id":"d-1"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.Get(KeyIdentity)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != `{"driver_id":"d-1"}` {
		t.Fatalf("Get after reopen: got %q", got)
	}
}

func TestFileStore_MissingKey(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := s.Get("nope"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}
