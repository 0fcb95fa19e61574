package client

import (
	"path/filepath"
	"testing"

	"github.com/goshawk-3/storage-server/internal/merkle"
)

func TestLoadOrInitGeneratesFreshIdentityWhenAbsent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.bin")

	s, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	if s.BucketID == ([32]byte{}) {
		t.Fatal("expected a non-zero generated bucket id")
	}
	if s.Key == ([32]byte{}) {
		t.Fatal("expected a non-zero cipher key (DefaultKey)")
	}
	if _, ok := s.Tree.Root(); ok {
		t.Fatal("expected no root on a freshly initialized state")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.bin")

	s, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit: %v", err)
	}
	s.Tree = merkle.Build([]merkle.Hash{{1}, {2}, {3}})
	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadOrInit(path)
	if err != nil {
		t.Fatalf("LoadOrInit (reload): %v", err)
	}
	if loaded.BucketID != s.BucketID {
		t.Fatal("bucket id did not round-trip")
	}
	if loaded.Key != s.Key {
		t.Fatal("cipher key did not round-trip")
	}
	wantRoot, _ := s.Tree.Root()
	gotRoot, ok := loaded.Tree.Root()
	if !ok || gotRoot != wantRoot {
		t.Fatal("tree root did not round-trip")
	}
}
