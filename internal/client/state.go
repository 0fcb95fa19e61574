package client

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goshawk-3/storage-server/internal/merkle"
	"github.com/goshawk-3/storage-server/internal/streamcipher"
	"github.com/goshawk-3/storage-server/internal/wire"
)

// State is the client's persisted identity and commitment: its bucket id,
// cipher key, and the Merkle tree over every ciphertext it has uploaded so
// far. It is loaded once at startup and rewritten atomically at the end of
// every successful upload batch.
type State struct {
	BucketID [32]byte
	Key      [32]byte
	Tree     merkle.Tree
}

// LoadOrInit reads the state file at path, generating a fresh bucket id
// on first run (no existing file). The cipher key starts out as the
// shared DefaultKey (the spec's "simplest scheme"): bucket isolation is
// by bucket_id alone, never by key secrecy, so identical plaintexts
// uploaded by distinct clients are expected to produce byte-identical
// ciphertexts on the wire.
func LoadOrInit(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState()
	}
	if err != nil {
		return nil, fmt.Errorf("client: read state file: %w", err)
	}
	return decodeState(data)
}

func newState() (*State, error) {
	s := &State{Key: streamcipher.DefaultKey}
	if _, err := rand.Read(s.BucketID[:]); err != nil {
		return nil, fmt.Errorf("client: generate bucket id: %w", err)
	}
	s.Tree = merkle.Build(nil)
	return s, nil
}

// decodeState parses the state blob: an EncodeHashes-framed leaf sequence
// followed by the raw 32-byte bucket id and 32-byte cipher key.
func decodeState(data []byte) (*State, error) {
	leaves, consumed, err := wire.DecodeHashes(data)
	if err != nil {
		return nil, fmt.Errorf("client: decode state leaves: %w", err)
	}
	rest := data[consumed:]
	if len(rest) != 64 {
		return nil, wire.ErrMalformed
	}

	s := &State{Tree: merkle.Build(leaves)}
	copy(s.BucketID[:], rest[:32])
	copy(s.Key[:], rest[32:64])
	return s, nil
}

func (s *State) encode() []byte {
	out := wire.EncodeHashes(s.Tree.Leaves())
	out = append(out, s.BucketID[:]...)
	out = append(out, s.Key[:]...)
	return out
}

// Save persists the state atomically: write to a temp file in the same
// directory, fsync, then rename over the destination.
func (s *State) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("client: create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("client: create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(s.encode()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("client: write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("client: fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("client: close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("client: rename temp state file: %w", err)
	}
	return nil
}

// BucketIDHex returns the hex-encoded bucket id used in URL paths.
func (s *State) BucketIDHex() string {
	return fmt.Sprintf("%x", s.BucketID[:])
}
