package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashIdentifier produces the storage key hash for a login identifier. The
// identifier is lowercased first so throttling state is case-insensitive.
func HashIdentifier(identifier string) string {
	return HashToken(strings.ToLower(strings.TrimSpace(identifier)))
}

// FingerprintDevice reduces device context to a short hash suitable for a
// session row. Empty input yields an empty fingerprint.
func FingerprintDevice(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	return HashToken(userAgent)[:16]
}
