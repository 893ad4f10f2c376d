package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintWidth is the number of hex characters retained from the full
// digest. 16 hex chars (64 bits) keeps the global store compact while making
// accidental collisions across a customer corpus vanishingly unlikely.
const FingerprintWidth = 16

// Canonicalize normalizes text so formatting-only differences hash equal:
// trim, lowercase, collapse all whitespace runs to a single space.
func Canonicalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Fingerprint hashes canonicalized text and truncates to FingerprintWidth.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(Canonicalize(text)))
	return hex.EncodeToString(sum[:])[:FingerprintWidth]
}

// ContentHash returns the full-width digest of canonicalized text, used for
// PageRecord.ContentHash where storage width is not a concern.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Canonicalize(text)))
	return hex.EncodeToString(sum[:])
}
