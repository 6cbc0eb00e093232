// Package hasher computes content digests over streams in fixed-size chunks,
// so memory use does not depend on payload size.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
)

// ChunkSize is the read size used when streaming a source.
const ChunkSize = 64 * 1024

// Digest is a lowercase hex SHA-256 digest.
type Digest string

// EmptyDigest is the digest of the empty byte sequence.
const EmptyDigest Digest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// ErrRead is wrapped around failures reading the source stream.
var ErrRead = errors.New("hasher: read source")

// ErrWrite is wrapped around failures writing to the copy destination.
var ErrWrite = errors.New("hasher: write destination")

func (d Digest) String() string { return string(d) }

// Valid reports whether d looks like a SHA-256 hex digest.
func (d Digest) Valid() bool {
	if len(d) != sha256.Size*2 {
		return false
	}
	for _, c := range d {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// Hasher accumulates a digest. It implements io.Writer.
type Hasher struct {
	h hash.Hash
	n int64
}

// New returns a Hasher with an empty state.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, _ := h.h.Write(p)
	h.n += int64(n)
	return n, nil
}

// Size returns the number of bytes written so far.
func (h *Hasher) Size() int64 { return h.n }

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Digest {
	return Digest(hex.EncodeToString(h.h.Sum(nil)))
}

// Copy streams src into dst and returns the digest of the copied bytes and
// their count. dst may be nil to hash only.
func Copy(dst io.Writer, src io.Reader) (Digest, int64, error) {
	h := New()
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			if dst != nil {
				if _, werr := dst.Write(chunk); werr != nil {
					return "", h.n, fmt.Errorf("%w: %w", ErrWrite, werr)
				}
			}
		}
		if rerr == io.EOF {
			return h.Sum(), h.n, nil
		}
		if rerr != nil {
			return "", h.n, fmt.Errorf("%w: %w", ErrRead, rerr)
		}
	}
}

// Sum hashes r to EOF.
func Sum(r io.Reader) (Digest, int64, error) {
	return Copy(nil, r)
}

// SumBytes hashes an in-memory payload.
func SumBytes(p []byte) Digest {
	s := sha256.Sum256(p)
	return Digest(hex.EncodeToString(s[:]))
}
