// Package wire implements the length-prefixed little-endian binary codec
// shared by proof responses and the client state file.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/goshawk-3/storage-server/internal/merkle"
)

// ErrMalformed is returned when a byte slice does not decode to a
// well-formed record sequence.
var ErrMalformed = errors.New("wire: malformed encoding")

const hashSize = 32
const proofRecordSize = hashSize + 1 // sibling hash + flag byte

// EncodeProof serializes an inclusion proof as an 8-byte little-endian
// record count followed by that many (32-byte hash, 1-byte flag) records.
func EncodeProof(proof []merkle.ProofEntry) []byte {
	buf := make([]byte, 8+len(proof)*proofRecordSize)
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(proof)))

	off := 8
	for _, entry := range proof {
		copy(buf[off:off+hashSize], entry.Sibling[:])
		if entry.Left {
			buf[off+hashSize] = 1
		} else {
			buf[off+hashSize] = 0
		}
		off += proofRecordSize
	}
	return buf
}

// DecodeProof parses the format produced by EncodeProof. It never panics:
// any malformed input yields ErrMalformed.
func DecodeProof(data []byte) ([]merkle.ProofEntry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: truncated count", ErrMalformed)
	}
	count := binary.LittleEndian.Uint64(data[:8])
	rest := data[8:]
	if count > uint64(len(rest))/proofRecordSize {
		return nil, fmt.Errorf("%w: count %d exceeds %d record bytes", ErrMalformed, count, len(rest))
	}
	want := count * uint64(proofRecordSize)
	if uint64(len(rest)) != want {
		return nil, fmt.Errorf("%w: expected %d record bytes, got %d", ErrMalformed, want, len(rest))
	}

	proof := make([]merkle.ProofEntry, count)
	for i := range proof {
		off := i * proofRecordSize
		copy(proof[i].Sibling[:], rest[off:off+hashSize])
		flag := rest[off+hashSize]
		if flag != 0 && flag != 1 {
			return nil, fmt.Errorf("%w: invalid flag byte %d", ErrMalformed, flag)
		}
		proof[i].Left = flag == 1
	}
	return proof, nil
}

// EncodeHashes serializes a sequence of hashes as an 8-byte little-endian
// count followed by that many 32-byte hashes. It is used for the leaf
// sequence portion of the client state file.
func EncodeHashes(hashes []merkle.Hash) []byte {
	buf := make([]byte, 8+len(hashes)*hashSize)
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(hashes)))
	off := 8
	for _, h := range hashes {
		copy(buf[off:off+hashSize], h[:])
		off += hashSize
	}
	return buf
}

// DecodeHashes parses the format produced by EncodeHashes, returning the
// hashes and the number of bytes consumed from data.
func DecodeHashes(data []byte) (hashes []merkle.Hash, consumed int, err error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated count", ErrMalformed)
	}
	count := binary.LittleEndian.Uint64(data[:8])
	need := 8 + count*uint64(hashSize)
	if uint64(len(data)) < need {
		return nil, 0, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrMalformed, need, len(data))
	}

	hashes = make([]merkle.Hash, count)
	off := 8
	for i := range hashes {
		copy(hashes[i][:], data[off:off+hashSize])
		off += hashSize
	}
	return hashes, off, nil
}
