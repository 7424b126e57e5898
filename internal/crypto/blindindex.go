package crypto

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
    "strings"
)

// Indexer produces deterministic lookup tokens for fields that must be
// searchable by equality without being readable. The token is an
// HMAC-SHA256 of the normalized value under a long-lived shared secret:
// the same input always maps to the same token, the token cannot be
// inverted, and HMAC is immune to the length-extension games a plain
// hash of secret||value would allow.
type Indexer struct {
    key []byte
}

// NewIndexer returns an Indexer keyed with the shared secret.
func NewIndexer(secret []byte) *Indexer {
    return &Indexer{key: secret}
}

// Index returns the hex-encoded lookup token for value. The input is
// normalized first so that "  A@X.com " and "a@x.com" index identically.
func (ix *Indexer) Index(value string) string {
    mac := hmac.New(sha256.New, ix.key)
    mac.Write([]byte(Normalize(value)))
    return hex.EncodeToString(mac.Sum(nil))
}

// Normalize lowercases and trims a value the same way for indexing and
// storage. Every plaintext that gets indexed must pass through here
// before being persisted, or the stored index diverges from lookups.
func Normalize(value string) string {
    return strings.ToLower(strings.TrimSpace(value))
}
