package store

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/paulschiretz/pgl-dedup/pkg/pool"
)

const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// HashFunc returns the constructor of a supported 256-bit digest.
func HashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "", SHA256:
		return sha256.New, nil
	case BLAKE3:
		return func() hash.Hash { return blake3.New() }, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q: must be '%s' or '%s'", algorithm, SHA256, BLAKE3)
	}
}

// NameDigest hashes the destination short name followed by the absolute
// source path, both UTF-8.
func NameDigest(hashes *pool.HashPool, destination, sourcePath string) []byte {
	h := hashes.Get()
	defer hashes.Put(h)
	h.Write([]byte(destination))
	h.Write([]byte(sourcePath))
	return h.Sum(nil)
}
