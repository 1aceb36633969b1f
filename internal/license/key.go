package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// KeyPrefix tags every generated license key.
const KeyPrefix = "LIC"

// keyAlphabet excludes nothing; keys are case-normalized on input instead.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	keyBlockCount = 4
	keyBlockSize  = 4
)

var keyPattern = regexp.MustCompile(`^LIC(-[A-Z0-9]{4}){4}$`)

// GenerateKey produces an opaque license key of the form
// LIC-XXXX-XXXX-XXXX-XXXX drawn from a cryptographically secure source.
// The key is the sole secret gating activation, so a weak PRNG is not
// acceptable here. Uniqueness is enforced by the store at insert time.
func GenerateKey() (string, error) {
	raw := make([]byte, keyBlockCount*keyBlockSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("license key generation: %w", err)
	}

	var b strings.Builder
	b.WriteString(KeyPrefix)
	for i, c := range raw {
		if i%keyBlockSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}

// NormalizeKey uppercases a caller-supplied key and trims surrounding
// whitespace. Dashes are part of the canonical form and are not stripped.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// ValidKeyFormat reports whether a key matches the canonical format. This is
// a cheap shape check for the transport layer; unknown-but-well-formed keys
// still fail lookup with ErrInvalidLicense.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// MaskKey redacts a license key for logging, keeping only the prefix and the
// last block visible.
func MaskKey(key string) string {
	if len(key) < 8 {
		return "****"
	}
	return key[:4] + "****-****-****-" + key[len(key)-4:]
}
