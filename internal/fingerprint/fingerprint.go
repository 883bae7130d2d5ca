// Package fingerprint computes deterministic content digests used as
// cache and dedup keys. Any byte difference produces a different
// fingerprint, so an exact-text match is the only way to hit.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of text.
func Hash(text []byte) string {
	sum := sha256.Sum256(text)
	return hex.EncodeToString(sum[:])
}

// HashString is Hash for string input without an extra conversion at
// call sites.
func HashString(text string) string {
	return Hash([]byte(text))
}

// Short returns a 12-character prefix of a fingerprint for log fields.
// Short of anything shorter returns it unchanged.
func Short(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12]
}
