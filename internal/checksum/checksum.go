// Package checksum is the digest primitive for record integrity: every
// committed digest in the ledger is a SHA-256 hex string produced here.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data. Used directly for
// file bytes and ciphertext content addressing.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SumString digests the UTF-8 bytes of s. Canonical record strings are
// digested through this; the 64-char lowercase hex output is the value
// committed to the ledger.
func SumString(s string) string {
	return Sum([]byte(s))
}
