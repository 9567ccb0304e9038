// Package dedup provides content-addressed deduplication hashes.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize lowercases text and collapses runs of whitespace so that
// trivially reformatted content hashes identically.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Hash returns the hex-encoded SHA-256 digest of the normalized content.
// It is used both as the dedup uniqueness key and as the pre-embedding
// existence check.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
