// Package md5 provides the MD5 fingerprint hasher.
package md5

import (
	"crypto/md5" //nolint:gosec // fingerprints, not security
	"encoding/hex"
	"fmt"
)

// Hasher implements news.Hasher using MD5 (128-bit digests).
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a 32 character hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("hash input is empty")
	}
	sum := md5.Sum(data) //nolint:gosec // fingerprints, not security
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first n hex characters of the MD5 of s.
func Short(s string, n int) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // cache key only
	digest := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
