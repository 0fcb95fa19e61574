package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/goshawk-3/storage-server/internal/merkle"
)

// ErrDuplicateUpload is returned when a ciphertext hash already exists in a
// bucket's file set.
var ErrDuplicateUpload = errors.New("server: file already uploaded")

// Bucket is one client's namespace of uploaded ciphertext blobs together
// with the Merkle tree mirroring their canonical (ascending hash) order.
// Its map and tree are guarded by an independent reader/writer lock so
// concurrent work on different buckets never serializes on a shared lock.
type Bucket struct {
	ID  [32]byte
	Dir string

	mu    sync.RWMutex
	files map[merkle.Hash]string
	tree  merkle.Tree
}

// NewBucket creates an empty bucket rooted at dir.
func NewBucket(id [32]byte, dir string) *Bucket {
	return &Bucket{
		ID:    id,
		Dir:   dir,
		files: make(map[merkle.Hash]string),
	}
}

// AddFile inserts hash -> path. It returns ErrDuplicateUpload if hash is
// already present; it does not rebuild the tree (that happens only on
// complete-upload).
func (b *Bucket) AddFile(hash merkle.Hash, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.files[hash]; exists {
		return ErrDuplicateUpload
	}
	b.files[hash] = path
	return nil
}

// HasFile reports whether hash is already present in the bucket.
func (b *Bucket) HasFile(hash merkle.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.files[hash]
	return exists
}

// sortedHashesLocked returns the bucket's file hashes in ascending
// byte-lex order. Callers must hold at least a read lock.
func (b *Bucket) sortedHashesLocked() []merkle.Hash {
	hashes := make([]merkle.Hash, 0, len(b.files))
	for h := range b.files {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return lessHash(hashes[i], hashes[j])
	})
	return hashes
}

func lessHash(a, b merkle.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// RebuildTree recomputes the Merkle tree from the bucket's file hashes in
// ascending order. This is the only point at which the tree changes.
func (b *Bucket) RebuildTree() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree = merkle.Build(b.sortedHashesLocked())
}

// FilePath returns the on-disk path of the index-th file in canonical
// (ascending hash) order.
func (b *Bucket) FilePath(index int) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hashes := b.sortedHashesLocked()
	if index < 0 || index >= len(hashes) {
		return "", false
	}
	return b.files[hashes[index]], true
}

// Proof returns the inclusion proof for the index-th leaf in the bucket's
// last-rebuilt tree, and whether index was in range.
func (b *Bucket) Proof(index int) ([]merkle.ProofEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if index < 0 || index >= b.tree.LeavesCount() {
		return nil, false
	}
	return b.tree.Proof(index), true
}

// FileCount returns the number of files currently held in the bucket.
func (b *Bucket) FileCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

// snapshot captures the bucket's file set for persistence. It takes the
// bucket's read lock itself, so callers must not already hold it.
func (b *Bucket) snapshot() bucketRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec := bucketRecord{BucketID: hexEncode(b.ID[:])}
	for h, path := range b.files {
		rec.Files = append(rec.Files, fileRecord{Hash: hexEncode(h[:]), Path: path})
	}
	return rec
}
