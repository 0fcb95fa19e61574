package server

import (
	"path/filepath"
	"sync"
)

// UploadsDir is the root directory under which every bucket's ciphertext
// blobs are stored, one subdirectory per bucket id (hex-encoded).
// Exported so callers (including tests that need to reach a bucket's
// on-disk ciphertext directly) can point it at a scratch directory.
var UploadsDir = "uploads"

func bucketDir(root, bucketIDHex string) string {
	return filepath.Join(root, bucketIDHex)
}

// State holds every bucket known to the server. The outer lock guards only
// the map itself; once a *Bucket is retrieved, callers take its own lock
// independently, so concurrent work against different buckets never
// serializes on State's lock.
type State struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	store   *Store
}

// NewState builds an empty State backed by store.
func NewState(store *Store) *State {
	return &State{
		buckets: make(map[string]*Bucket),
		store:   store,
	}
}

// LoadFromStore populates State from every bucket record persisted in the
// durable store, rebuilding each bucket's Merkle tree from its files in
// ascending hash order.
func (s *State) LoadFromStore() error {
	buckets, err := s.store.LoadAll()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range buckets {
		s.buckets[hexEncode(b.ID[:])] = b
	}
	return nil
}

// GetOrCreate returns the bucket for bucketIDHex, creating and registering
// an empty one if it does not yet exist.
func (s *State) GetOrCreate(id [32]byte, bucketIDHex string) *Bucket {
	s.mu.RLock()
	b, ok := s.buckets[bucketIDHex]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[bucketIDHex]; ok {
		return b
	}
	b = NewBucket(id, bucketDir(UploadsDir, bucketIDHex))
	s.buckets[bucketIDHex] = b
	return b
}

// Get returns the bucket for bucketIDHex, and whether it exists.
func (s *State) Get(bucketIDHex string) (*Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucketIDHex]
	return b, ok
}

// Persist checkpoints a single bucket's current file set to the durable
// store. Called on complete_upload, never on individual file uploads.
func (s *State) Persist(b *Bucket) error {
	return s.store.PutBucket(b)
}

// FilePath returns the on-disk ciphertext path for the index-th file in
// bucketIDHex's canonical order, and whether it exists.
func (s *State) FilePath(bucketIDHex string, index int) (string, bool) {
	b, ok := s.Get(bucketIDHex)
	if !ok {
		return "", false
	}
	return b.FilePath(index)
}
