package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/goshawk-3/storage-server/internal/merkle"
	"github.com/goshawk-3/storage-server/internal/streamcipher"
	"github.com/goshawk-3/storage-server/internal/wire"
)

// Sentinel error kinds surfaced to callers, per the error taxonomy this
// client follows.
var (
	ErrMissingRoot  = errors.New("client: no commitment yet")
	ErrInvalidProof = errors.New("client: proof failed to verify")
)

// UploadFailedError names the file whose upload did not complete; batch
// processing logs and skips these rather than aborting.
type UploadFailedError struct {
	Filename string
	Cause    error
}

func (e *UploadFailedError) Error() string {
	return fmt.Sprintf("client: upload failed for %q: %v", e.Filename, e.Cause)
}

func (e *UploadFailedError) Unwrap() error { return e.Cause }

// DownloadFailedError carries the resource, index, and HTTP status of a
// failed download GET.
type DownloadFailedError struct {
	Resource string
	Index    int
	Status   int
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("client: download of %s at index %d failed with status %d", e.Resource, e.Index, e.Status)
}

// FileRef is one (logical_name, local_path) pair from a source directory
// scan, the unit of an upload batch.
type FileRef struct {
	Name string
	Path string
}

// App orchestrates uploads and downloads against a single server, holding
// the client's persisted State and the directories it reads from and
// writes to.
type App struct {
	ServerURL   string
	StatePath   string
	DownloadDir string
	HTTP        *http.Client

	mu    sync.Mutex
	state *State
}

// NewApp loads or initializes client state and builds an App ready to
// upload and download against serverURL.
func NewApp(serverURL, statePath, downloadDir string) (*App, error) {
	state, err := LoadOrInit(statePath)
	if err != nil {
		return nil, err
	}
	return &App{
		ServerURL:   serverURL,
		StatePath:   statePath,
		DownloadDir: downloadDir,
		HTTP:        http.DefaultClient,
		state:       state,
	}, nil
}

// BucketIDHex returns the client's bucket id for display.
func (a *App) BucketIDHex() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.BucketIDHex()
}

// UploadBatch runs the five-step commitment algorithm: concurrent
// per-file encrypt+hash+upload, a complete_upload barrier, tree rebuild
// over the canonically (hash-ascending) ordered leaf set, and an atomic
// state save.
func (a *App) UploadBatch(ctx context.Context, files []FileRef) error {
	a.mu.Lock()
	bucketHex := a.state.BucketIDHex()
	key := a.state.Key
	existing := a.state.Tree.Leaves()
	a.mu.Unlock()

	var accMu sync.Mutex
	leaves := append([]merkle.Hash(nil), existing...)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		f := f
		g.Go(func() error {
			h, err := a.uploadOne(gctx, bucketHex, key, f)
			if err != nil {
				log.Printf("upload failed for %q: %v", f.Name, err)
				return nil
			}
			accMu.Lock()
			leaves = append(leaves, h)
			accMu.Unlock()
			_ = os.Remove(f.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := a.completeUpload(ctx, bucketHex); err != nil {
		return err
	}

	sort.Slice(leaves, func(i, j int) bool { return lessHash(leaves[i], leaves[j]) })

	a.mu.Lock()
	a.state.Tree = merkle.Build(leaves)
	err := a.state.Save(a.StatePath)
	a.mu.Unlock()
	return err
}

func lessHash(x, y merkle.Hash) bool {
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}

func (a *App) uploadOne(ctx context.Context, bucketHex string, key [32]byte, f FileRef) (merkle.Hash, error) {
	plaintext, err := os.ReadFile(f.Path)
	if err != nil {
		return merkle.Hash{}, &UploadFailedError{Filename: f.Name, Cause: err}
	}

	ciphertext := append([]byte(nil), plaintext...)
	if err := streamcipher.Apply(key, ciphertext); err != nil {
		return merkle.Hash{}, &UploadFailedError{Filename: f.Name, Cause: err}
	}
	hash := merkle.Hash(sha256.Sum256(ciphertext))

	url := fmt.Sprintf("%s/upload_file/%s/%s", a.ServerURL, bucketHex, f.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(ciphertext))
	if err != nil {
		return merkle.Hash{}, &UploadFailedError{Filename: f.Name, Cause: err}
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return merkle.Hash{}, &UploadFailedError{Filename: f.Name, Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return merkle.Hash{}, &UploadFailedError{Filename: f.Name, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return hash, nil
}

func (a *App) completeUpload(ctx context.Context, bucketHex string) error {
	url := fmt.Sprintf("%s/complete_upload/%s", a.ServerURL, bucketHex)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: complete_upload failed with status %d", resp.StatusCode)
	}
	return nil
}

// Download fetches the ciphertext and proof for index, verifies inclusion
// against the client's current root, and on success decrypts and writes
// the plaintext to the download directory named by hex(leaf hash).
func (a *App) Download(ctx context.Context, index int) error {
	a.mu.Lock()
	bucketHex := a.state.BucketIDHex()
	key := a.state.Key
	root, hasRoot := a.state.Tree.Root()
	a.mu.Unlock()

	if !hasRoot {
		return ErrMissingRoot
	}

	ciphertext, status, err := a.getBytes(ctx, "file", bucketHex, index)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &DownloadFailedError{Resource: "file", Index: index, Status: status}
	}

	hash := merkle.Hash(sha256.Sum256(ciphertext))

	proofBytes, status, err := a.getBytes(ctx, "proof", bucketHex, index)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &DownloadFailedError{Resource: "proof", Index: index, Status: status}
	}

	proof, err := wire.DecodeProof(proofBytes)
	if err != nil {
		return err
	}

	if !merkle.Verify(hash, proof, root) {
		return ErrInvalidProof
	}

	plaintext := append([]byte(nil), ciphertext...)
	if err := streamcipher.Apply(key, plaintext); err != nil {
		return err
	}

	if err := os.MkdirAll(a.DownloadDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(a.DownloadDir, fmt.Sprintf("%x", hash[:]))
	return os.WriteFile(dst, plaintext, 0o644)
}

func (a *App) getBytes(ctx context.Context, resource, bucketHex string, index int) ([]byte, int, error) {
	url := fmt.Sprintf("%s/%s/%s/%d", a.ServerURL, resource, bucketHex, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
