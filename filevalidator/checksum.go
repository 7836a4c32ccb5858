package filevalidator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Checksums holds the digests produced by one pass over a file.
type Checksums struct {
	// SHA256 is the hex-encoded content hash recorded in the verdict.
	SHA256 string
	// Fingerprint is the xxhash64 digest used for duplicate detection.
	Fingerprint uint64
}

// Hasher computes the content hash and fingerprint of a file in a single
// pass.
type Hasher struct {
	// BufferSize is the copy buffer size; zero uses io.Copy's default.
	BufferSize int
}

// NewHasher creates a Hasher with the default copy buffer.
func NewHasher() *Hasher {
	return &Hasher{}
}

// Sum reads r to EOF, writing to every digest at once.
func (h *Hasher) Sum(r io.Reader) (Checksums, error) {
	sha := sha256.New()
	xx := xxhash.New()

	multiWriter := io.MultiWriter(sha, xx)

	var err error
	if h.BufferSize > 0 {
		_, err = io.CopyBuffer(multiWriter, r, make([]byte, h.BufferSize))
	} else {
		_, err = io.Copy(multiWriter, r)
	}
	if err != nil {
		return Checksums{}, fmt.Errorf("failed to calculate checksums: %w", err)
	}

	return Checksums{
		SHA256:      hexSum(sha),
		Fingerprint: xx.Sum64(),
	}, nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
