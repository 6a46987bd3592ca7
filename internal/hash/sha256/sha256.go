// Package sha256 provides a SHA-256 fingerprint hasher truncated to 128 bits.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// digestBytes keeps fingerprints the same width as the MD5 default.
const digestBytes = 16

// Hasher implements news.Hasher using a truncated SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the first 128 bits as hex.
func (h *Hasher) Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("hash input is empty")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:digestBytes]), nil
}
