// Package fingerprint computes the deduplication digest for inbound messages.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the SHA-256 of the exact raw message bytes as lowercase hex.
// It is computed before any parsing so byte-identical redeliveries always map
// to the same fingerprint.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
