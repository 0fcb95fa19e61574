package client

import (
	"context"
	"crypto/sha256"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goshawk-3/storage-server/internal/merkle"
	"github.com/goshawk-3/storage-server/internal/server"
	"github.com/goshawk-3/storage-server/internal/streamcipher"
	"github.com/goshawk-3/storage-server/internal/wire"
)

func newTestBackend(t *testing.T) (*httptest.Server, *server.State) {
	t.Helper()
	server.UploadsDir = t.TempDir()

	store, err := server.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	state := server.NewState(store)
	srv := server.NewServer(state)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, state
}

func writeSourceFile(t *testing.T, dir, name string, body []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

func TestUploadBatchThenDownloadRoundTrip(t *testing.T) {
	t.Parallel()
	backend, _ := newTestBackend(t)

	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "a.txt", []byte("hello"))

	statePath := filepath.Join(t.TempDir(), "state.bin")
	downloadDir := t.TempDir()
	app, err := NewApp(backend.URL, statePath, downloadDir)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	ctx := context.Background()
	if err := app.UploadBatch(ctx, []FileRef{{Name: "a.txt", Path: path}}); err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected local plaintext to be removed after a successful upload")
	}
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected state file to exist after upload batch: %v", err)
	}

	if err := app.Download(ctx, 0); err != nil {
		t.Fatalf("Download: %v", err)
	}

	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		t.Fatalf("read download dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one downloaded file, got %d", len(entries))
	}
	got, err := os.ReadFile(filepath.Join(downloadDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("downloaded content = %q, want %q", got, "hello")
	}
}

func TestDownloadWithoutCommitmentFailsMissingRoot(t *testing.T) {
	t.Parallel()
	backend, _ := newTestBackend(t)

	statePath := filepath.Join(t.TempDir(), "state.bin")
	app, err := NewApp(backend.URL, statePath, t.TempDir())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	if err := app.Download(context.Background(), 0); err != ErrMissingRoot {
		t.Fatalf("expected ErrMissingRoot, got %v", err)
	}
}

func TestUploadBatchDuplicateContentYieldsOneLeaf(t *testing.T) {
	t.Parallel()
	backend, _ := newTestBackend(t)

	srcDir := t.TempDir()
	pathA := writeSourceFile(t, srcDir, "a.txt", []byte("same bytes"))
	pathB := writeSourceFile(t, srcDir, "b.txt", []byte("same bytes"))

	statePath := filepath.Join(t.TempDir(), "state.bin")
	app, err := NewApp(backend.URL, statePath, t.TempDir())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	err = app.UploadBatch(context.Background(), []FileRef{
		{Name: "a.txt", Path: pathA},
		{Name: "b.txt", Path: pathB},
	})
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}

	if app.state.Tree.LeavesCount() != 1 {
		t.Fatalf("expected exactly 1 leaf after duplicate-content batch, got %d", app.state.Tree.LeavesCount())
	}
}

func TestDownloadDetectsTamperedCiphertext(t *testing.T) {
	t.Parallel()
	backend, state := newTestBackend(t)

	srcDir := t.TempDir()
	path := writeSourceFile(t, srcDir, "a.txt", []byte("hello"))

	statePath := filepath.Join(t.TempDir(), "state.bin")
	downloadDir := t.TempDir()
	app, err := NewApp(backend.URL, statePath, downloadDir)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	ctx := context.Background()
	if err := app.UploadBatch(ctx, []FileRef{{Name: "a.txt", Path: path}}); err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}

	ciphertextPath, ok := state.FilePath(app.state.BucketIDHex(), 0)
	if !ok {
		t.Fatal("expected to find the uploaded ciphertext's on-disk path")
	}
	tampered, err := os.ReadFile(ciphertextPath)
	if err != nil {
		t.Fatalf("read stored ciphertext: %v", err)
	}
	tampered[0] ^= 0xFF
	if err := os.WriteFile(ciphertextPath, tampered, 0o644); err != nil {
		t.Fatalf("write tampered ciphertext: %v", err)
	}

	if err := app.Download(ctx, 0); err != ErrInvalidProof {
		t.Fatalf("expected ErrInvalidProof for tampered ciphertext, got %v", err)
	}

	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		t.Fatalf("read download dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no file written to the download dir on verification failure, got %d", len(entries))
	}
}

func TestDistinctBucketsWithIdenticalContentDoNotCrossVerify(t *testing.T) {
	t.Parallel()
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	// Both buckets receive one identical "shared" file (same plaintext,
	// same DefaultKey => same ciphertext bytes) plus a bucket-unique
	// second file, so each bucket's tree has 2 leaves and a root that is
	// not itself just the shared leaf's hash.
	srcDirA := t.TempDir()
	sharedA := writeSourceFile(t, srcDirA, "shared.txt", []byte("identical bytes"))
	extraA := writeSourceFile(t, srcDirA, "extra.txt", []byte("bucket A only"))

	srcDirB := t.TempDir()
	sharedB := writeSourceFile(t, srcDirB, "shared.txt", []byte("identical bytes"))
	extraB := writeSourceFile(t, srcDirB, "extra.txt", []byte("bucket B only"))

	appA, err := NewApp(backend.URL, filepath.Join(t.TempDir(), "state.bin"), t.TempDir())
	if err != nil {
		t.Fatalf("NewApp A: %v", err)
	}
	if err := appA.UploadBatch(ctx, []FileRef{
		{Name: "shared.txt", Path: sharedA},
		{Name: "extra.txt", Path: extraA},
	}); err != nil {
		t.Fatalf("UploadBatch A: %v", err)
	}

	appB, err := NewApp(backend.URL, filepath.Join(t.TempDir(), "state.bin"), t.TempDir())
	if err != nil {
		t.Fatalf("NewApp B: %v", err)
	}
	if err := appB.UploadBatch(ctx, []FileRef{
		{Name: "shared.txt", Path: sharedB},
		{Name: "extra.txt", Path: extraB},
	}); err != nil {
		t.Fatalf("UploadBatch B: %v", err)
	}

	if appA.BucketIDHex() == appB.BucketIDHex() {
		t.Fatal("expected distinct clients to generate distinct bucket ids")
	}

	rootA, ok := appA.state.Tree.Root()
	if !ok {
		t.Fatal("expected bucket A to have a root")
	}
	rootB, ok := appB.state.Tree.Root()
	if !ok {
		t.Fatal("expected bucket B to have a root")
	}
	if rootA == rootB {
		t.Fatal("expected the bucket-unique second file to make the two roots diverge")
	}

	// Locate the shared leaf's index within each bucket independently
	// (insertion order is by ciphertext hash, not upload order).
	sharedIdxA, sharedCiphertextA := findLeafIndex(t, ctx, appA, "identical bytes")
	_, sharedCiphertextB := findLeafIndex(t, ctx, appB, "identical bytes")
	if string(sharedCiphertextA) != string(sharedCiphertextB) {
		t.Fatal("expected the shared file to produce byte-identical ciphertext in both buckets")
	}
	sharedLeaf := merkle.Hash(sha256.Sum256(sharedCiphertextA))

	proofBytesA, _, err := appA.getBytes(ctx, "proof", appA.BucketIDHex(), sharedIdxA)
	if err != nil {
		t.Fatalf("fetch proof A: %v", err)
	}
	proofA, err := wire.DecodeProof(proofBytesA)
	if err != nil {
		t.Fatalf("decode proof A: %v", err)
	}

	if !merkle.Verify(sharedLeaf, proofA, rootA) {
		t.Fatal("sanity check failed: bucket A's own proof should verify against its own root")
	}
	if merkle.Verify(sharedLeaf, proofA, rootB) {
		t.Fatal("bucket A's proof for the shared leaf must not verify against bucket B's root")
	}
}

// findLeafIndex downloads every index in app's bucket until it finds the
// one whose decrypted content equals want, returning that index and its
// raw (still-encrypted) ciphertext bytes as served by the bucket.
func findLeafIndex(t *testing.T, ctx context.Context, app *App, want string) (int, []byte) {
	t.Helper()
	for i := 0; i < app.state.Tree.LeavesCount(); i++ {
		ciphertext, status, err := app.getBytes(ctx, "file", app.BucketIDHex(), i)
		if err != nil || status != 200 {
			t.Fatalf("fetch file %d: status=%d err=%v", i, status, err)
		}
		plaintext := append([]byte(nil), ciphertext...)
		if err := streamcipher.Apply(app.state.Key, plaintext); err != nil {
			t.Fatalf("decrypt file %d: %v", i, err)
		}
		if string(plaintext) == want {
			return i, ciphertext
		}
	}
	t.Fatalf("no leaf in bucket %s decrypted to %q", app.BucketIDHex(), want)
	return -1, nil
}
