// Package digest computes content digests for uploads, node change detection and preview
// naming, and caches file digests for the lifetime of the process.
package digest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Algorithm names a supported digest
type Algorithm string

const (
	// SHA256 is used to compare uploads against existing files
	SHA256 Algorithm = "sha256"
	// MD5 derives preview names from source path strings
	MD5 Algorithm = "md5"
	// XXHash is the fast digest used for node change detection
	XXHash Algorithm = "xxhash"
)

// NewHash returns a fresh hash.Hash for the algorithm
func NewHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case SHA256, "":
		return sha256.New(), nil
	case MD5:
		return md5.New(), nil
	case XXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", alg)
	}
}

// Reader hashes everything read from r and returns the lowercase hex digest
func Reader(alg Algorithm, r io.Reader) (string, error) {
	h, err := NewHash(alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes the full contents of the file at path
func File(alg Algorithm, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(alg, f)
}

// String hashes s itself, not a file it may name
func String(alg Algorithm, s string) string {
	h, err := NewHash(alg)
	if err != nil {
		h = sha256.New()
	}
	_, _ = io.WriteString(h, s)
	return hex.EncodeToString(h.Sum(nil))
}
