// Package redact derives loggable stand-ins for credential material.
package redact

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

const (
	shortIDLength = 8
	hintLength    = 4
	minHintSource = 16
)

// ShortID returns the identifier prefix used in logs and health output.
func ShortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// TokenHint returns a short prefix of a bearer token suitable for display.
// Tokens too short to reveal a prefix safely are fully masked.
func TokenHint(token string) string {
	if len(token) < minHintSource {
		return "***"
	}
	return token[:hintLength] + "***"
}

// Fingerprint returns a stable, non-reversible digest of a token. Two
// records with the same token share a fingerprint.
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
