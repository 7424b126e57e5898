// Package kms provides a local implementation of the key-management
// boundary. It wraps data-encryption keys under a single 256-bit master
// key held in process memory. In production the same interface is meant
// to front an external KMS; the envelope format here (nonce||ciphertext
// with the GCM tag appended) is self-contained so wrapped keys survive a
// restart.
package kms

import (
    "context"
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "errors"
    "fmt"
)

const nonceSize = 12

// ErrMasterKey is returned when the configured master key is unusable.
var ErrMasterKey = errors.New("invalid master key")

// Local wraps and unwraps DEKs with AES-256-GCM under a fixed master key.
type Local struct {
    aead cipher.AEAD
}

// NewLocal builds a Local keyring from a 32-byte master key.
func NewLocal(masterKey []byte) (*Local, error) {
    if len(masterKey) != 32 {
        return nil, fmt.Errorf("%w: need 32 bytes, got %d", ErrMasterKey, len(masterKey))
    }
    block, err := aes.NewCipher(masterKey)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMasterKey, err)
    }
    aead, err := cipher.NewGCM(block)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrMasterKey, err)
    }
    return &Local{aead: aead}, nil
}

// Wrap encrypts a DEK under the master key.
func (l *Local) Wrap(ctx context.Context, dek []byte) ([]byte, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    nonce := make([]byte, nonceSize)
    if _, err := rand.Read(nonce); err != nil {
        return nil, fmt.Errorf("generate nonce: %w", err)
    }
    return l.aead.Seal(nonce, nonce, dek, nil), nil
}

// Unwrap decrypts a wrapped DEK. Tampered or truncated input fails the
// GCM tag check and is reported as an unwrap error.
func (l *Local) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    if len(wrapped) < nonceSize {
        return nil, errors.New("wrapped key too short")
    }
    dek, err := l.aead.Open(nil, wrapped[:nonceSize], wrapped[nonceSize:], nil)
    if err != nil {
        return nil, fmt.Errorf("unwrap: %w", err)
    }
    return dek, nil
}
