package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/goshawk-3/storage-server/internal/merkle"
	"github.com/goshawk-3/storage-server/internal/wire"
)

// Server wires a State (in-memory buckets + durable store) to the HTTP
// surface: upload_file, complete_upload, file, proof.
type Server struct {
	state *State
}

// NewServer builds a Server over state.
func NewServer(state *State) *Server {
	return &Server{state: state}
}

// Routes returns the server's handler, wrapping every request with one log
// line carrying a fresh request id, the method and the path. The handlers'
// own event lines do not include the request id.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload_file/{bucket_id}/{filename}", s.uploadFile)
	mux.HandleFunc("POST /complete_upload/{bucket_id}", s.completeUpload)
	mux.HandleFunc("GET /file/{bucket_id}/{index}", s.getFile)
	mux.HandleFunc("GET /proof/{bucket_id}/{index}", s.getProof)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		log.Printf("req=%s method=%s path=%s", reqID, r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	})
}

func parseBucketID(raw string) ([32]byte, string, bool) {
	var id [32]byte
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return id, "", false
	}
	copy(id[:], b)
	return id, hex.EncodeToString(id[:]), true
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	id, idHex, ok := parseBucketID(r.PathValue("bucket_id"))
	if !ok {
		http.Error(w, "invalid bucket_id", http.StatusBadRequest)
		return
	}
	filename := r.PathValue("filename")
	if filename == "" || filename != filepath.Base(filename) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	hash := merkle.Hash(sha256.Sum256(body))
	bucket := s.state.GetOrCreate(id, idHex)

	if bucket.HasFile(hash) {
		log.Printf("event=upload_rejected bucket_id=%s file=%s reason=duplicate", idHex, filename)
		http.Error(w, ErrDuplicateUpload.Error(), http.StatusBadRequest)
		return
	}

	dir := bucket.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("event=upload_failed bucket_id=%s file=%s err=%q", idHex, filename, err)
		http.Error(w, "create bucket dir: "+err.Error(), http.StatusInternalServerError)
		return
	}
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, body, 0o644); err != nil {
		log.Printf("event=upload_failed bucket_id=%s file=%s err=%q", idHex, filename, err)
		http.Error(w, "write file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := bucket.AddFile(hash, path); err != nil {
		if errors.Is(err, ErrDuplicateUpload) {
			log.Printf("event=upload_rejected bucket_id=%s file=%s reason=duplicate", idHex, filename)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("event=upload_failed bucket_id=%s file=%s err=%q", idHex, filename, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("event=file_uploaded bucket_id=%s file=%s hash=%x", idHex, filename, hash[:])
	w.WriteHeader(http.StatusOK)
}

func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	_, idHex, ok := parseBucketID(r.PathValue("bucket_id"))
	if !ok {
		http.Error(w, "invalid bucket_id", http.StatusBadRequest)
		return
	}

	bucket, ok := s.state.Get(idHex)
	if !ok {
		log.Printf("event=complete_upload_failed bucket_id=%s reason=unknown_bucket", idHex)
		http.Error(w, "unknown bucket", http.StatusNotFound)
		return
	}

	bucket.RebuildTree()
	if err := s.state.Persist(bucket); err != nil {
		log.Printf("event=complete_upload_failed bucket_id=%s err=%q", idHex, err)
		http.Error(w, "persist bucket: "+err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("event=upload_completed bucket_id=%s files=%d", idHex, bucket.FileCount())
	w.WriteHeader(http.StatusOK)
}

func parseIndex(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	_, idHex, ok := parseBucketID(r.PathValue("bucket_id"))
	if !ok {
		http.Error(w, "invalid bucket_id", http.StatusBadRequest)
		return
	}
	index, ok := parseIndex(r.PathValue("index"))
	if !ok {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}

	bucket, ok := s.state.Get(idHex)
	if !ok {
		log.Printf("event=file_not_found bucket_id=%s index=%d reason=unknown_bucket", idHex, index)
		http.NotFound(w, r)
		return
	}

	path, ok := bucket.FilePath(index)
	if !ok {
		log.Printf("event=file_not_found bucket_id=%s index=%d reason=index_out_of_range", idHex, index)
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("event=file_read_failed bucket_id=%s index=%d err=%q", idHex, index, err)
		http.Error(w, "read file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("event=file_served bucket_id=%s index=%d bytes=%d", idHex, index, len(data))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) getProof(w http.ResponseWriter, r *http.Request) {
	_, idHex, ok := parseBucketID(r.PathValue("bucket_id"))
	if !ok {
		http.Error(w, "invalid bucket_id", http.StatusBadRequest)
		return
	}
	index, ok := parseIndex(r.PathValue("index"))
	if !ok {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}

	bucket, ok := s.state.Get(idHex)
	if !ok {
		log.Printf("event=proof_not_found bucket_id=%s index=%d reason=unknown_bucket", idHex, index)
		http.NotFound(w, r)
		return
	}

	proof, ok := bucket.Proof(index)
	if !ok {
		log.Printf("event=proof_not_found bucket_id=%s index=%d reason=index_out_of_range", idHex, index)
		http.NotFound(w, r)
		return
	}

	log.Printf("event=proof_served bucket_id=%s index=%d entries=%d", idHex, index, len(proof))
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(wire.EncodeProof(proof))
}
