// Package crypto provides content checksums for transferred files.
package crypto

import (
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NewChecksum returns a streaming BLAKE2b-256 hasher.
func NewChecksum() hash.Hash {
	// New256 only fails for keys longer than 64 bytes.
	h, _ := blake2b.New256(nil)
	return h
}

// SumHex returns the hex digest accumulated by h.
func SumHex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// FormatChecksum returns the first 16 hex chars grouped in chunks of 4 uppercase chars.
func FormatChecksum(checksum string) string {
	clean := strings.ToUpper(strings.ReplaceAll(checksum, " ", ""))
	if len(clean) > 16 {
		clean = clean[:16]
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}
