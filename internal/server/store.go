package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/goshawk-3/storage-server/internal/merkle"
)

// fileRecord and bucketRecord are the durable-store serialization of a
// Bucket's file set, keyed by bucket id (hex-encoded) in the underlying
// key-value table.
type fileRecord struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
}

type bucketRecord struct {
	BucketID string       `json:"bucket_id"`
	Files    []fileRecord `json:"files"`
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

// Store is the durable key-value database backing State, keyed by
// bucket id. It mirrors the teacher's Store: a thin wrapper around a
// single pure-Go SQLite database holding one buckets table (created on
// open if absent), guarded by a reader/writer mutex so reads and the
// occasional write never race on the underlying *sql.DB.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenStore opens or creates the durable store at path.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("server: create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("server: open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS buckets(
		bucket_id TEXT PRIMARY KEY,
		payload   BLOB NOT NULL
	);`)
	return err
}

// PutBucket persists the full serialized record for a bucket, overwriting
// any previous record for the same bucket id. This is the client-driven
// checkpoint fired by complete_upload; individual upload_file calls are
// never persisted on their own.
func (s *Store) PutBucket(b *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := b.snapshot()
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("server: marshal bucket record: %w", err)
	}

	_, err = s.db.ExecContext(context.Background(),
		`INSERT INTO buckets(bucket_id, payload) VALUES (?, ?)
		 ON CONFLICT(bucket_id) DO UPDATE SET payload=excluded.payload;`,
		rec.BucketID, payload)
	return err
}

// LoadAll enumerates every persisted bucket record, for use at server
// startup to repopulate State and rebuild each bucket's in-memory
// tree.
func (s *Store) LoadAll() ([]*Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(context.Background(), `SELECT bucket_id, payload FROM buckets;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*Bucket
	for rows.Next() {
		var bucketID string
		var payload []byte
		if err := rows.Scan(&bucketID, &payload); err != nil {
			return nil, err
		}

		var rec bucketRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("server: decode bucket %s: %w", bucketID, err)
		}

		idBytes, err := hex.DecodeString(rec.BucketID)
		if err != nil || len(idBytes) != 32 {
			return nil, fmt.Errorf("server: decode bucket id %s: %w", rec.BucketID, err)
		}
		var id [32]byte
		copy(id[:], idBytes)

		b := NewBucket(id, bucketDir(UploadsDir, rec.BucketID))
		for _, f := range rec.Files {
			hashBytes, err := hex.DecodeString(f.Hash)
			if err != nil || len(hashBytes) != 32 {
				return nil, fmt.Errorf("server: decode file hash for bucket %s: %w", rec.BucketID, err)
			}
			var h merkle.Hash
			copy(h[:], hashBytes)
			b.files[h] = f.Path
		}
		b.RebuildTree()
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
