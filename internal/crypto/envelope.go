// Package crypto implements the field-protection primitives of the
// platform: envelope encryption for sensitive values, the deterministic
// keyed index used to query encrypted fields by equality, and password
// hashing. The package holds no state beyond configured key material;
// every encrypted field carries everything needed to decrypt it (given
// the key-management boundary) inside its blob.
package crypto

import (
    "context"
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "encoding/json"
    "errors"
    "fmt"
)

const (
    // BlobVersion is stamped into every blob produced by this engine so
    // that future algorithm changes remain decodable.
    BlobVersion = 1

    dekSize   = 32 // AES-256 data-encryption key
    nonceSize = 12 // standard GCM nonce
    tagSize   = 16 // GCM authentication tag
)

var (
    // ErrIntegrity signals tampering or corruption detected during
    // decryption. It must never be retried or downgraded to a plain
    // validation failure.
    ErrIntegrity = errors.New("integrity check failed")

    // ErrKeyManagement signals that the key-management boundary was
    // unreachable or refused the operation. The call failed but may be
    // retried by the caller.
    ErrKeyManagement = errors.New("key management failure")
)

// Keyring is the external key-management boundary. Implementations wrap
// data-encryption keys under a master key that never enters this
// package.
type Keyring interface {
    Wrap(ctx context.Context, dek []byte) ([]byte, error)
    Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

// EncryptedBlob is the result of protecting one plaintext field. Each
// blob carries its own wrapped DEK; keys are never reused across fields
// or records. Blobs are immutable: re-encrypting a field produces a new
// blob.
type EncryptedBlob struct {
    Version    int    `json:"v"`
    Nonce      []byte `json:"nonce"`
    Ciphertext []byte `json:"ct"`
    Tag        []byte `json:"tag"`
    WrappedDEK []byte `json:"dek"`
}

// Marshal serializes the blob for storage in a single column.
func (b EncryptedBlob) Marshal() ([]byte, error) {
    return json.Marshal(b)
}

// UnmarshalBlob decodes a stored blob. A blob that does not parse is
// treated as corruption, not as malformed input.
func UnmarshalBlob(data []byte) (EncryptedBlob, error) {
    var b EncryptedBlob
    if err := json.Unmarshal(data, &b); err != nil {
        return EncryptedBlob{}, fmt.Errorf("%w: undecodable blob", ErrIntegrity)
    }
    return b, nil
}

// Engine performs envelope encryption: each Protect call draws a fresh
// random DEK, wraps it through the Keyring and encrypts the plaintext
// under the DEK with AES-256-GCM.
type Engine struct {
    keyring Keyring
}

// NewEngine returns an Engine backed by the given key-management
// boundary.
func NewEngine(k Keyring) *Engine {
    return &Engine{keyring: k}
}

// Protect encrypts plaintext under a fresh DEK and returns the blob.
// The DEK is zeroized before returning; it never outlives the call.
func (e *Engine) Protect(ctx context.Context, plaintext []byte) (EncryptedBlob, error) {
    dek := make([]byte, dekSize)
    if _, err := rand.Read(dek); err != nil {
        return EncryptedBlob{}, fmt.Errorf("generate dek: %w", err)
    }
    defer zeroize(dek)

    wrapped, err := e.keyring.Wrap(ctx, dek)
    if err != nil {
        return EncryptedBlob{}, fmt.Errorf("%w: wrap dek: %v", ErrKeyManagement, err)
    }

    aead, err := newAEAD(dek)
    if err != nil {
        return EncryptedBlob{}, err
    }
    nonce := make([]byte, nonceSize)
    if _, err := rand.Read(nonce); err != nil {
        return EncryptedBlob{}, fmt.Errorf("generate nonce: %w", err)
    }

    // Seal appends the 16-byte tag to the ciphertext; split it off so the
    // blob stores the five parts separately.
    sealed := aead.Seal(nil, nonce, plaintext, nil)
    cut := len(sealed) - tagSize
    return EncryptedBlob{
        Version:    BlobVersion,
        Nonce:      nonce,
        Ciphertext: sealed[:cut],
        Tag:        sealed[cut:],
        WrappedDEK: wrapped,
    }, nil
}

// Unprotect reverses Protect. Any tag mismatch or structural corruption
// yields ErrIntegrity and no plaintext; a Keyring failure yields
// ErrKeyManagement.
func (e *Engine) Unprotect(ctx context.Context, blob EncryptedBlob) ([]byte, error) {
    if blob.Version != BlobVersion {
        return nil, fmt.Errorf("%w: unsupported blob version %d", ErrIntegrity, blob.Version)
    }
    if len(blob.Nonce) != nonceSize || len(blob.Tag) != tagSize {
        return nil, fmt.Errorf("%w: malformed blob", ErrIntegrity)
    }

    dek, err := e.keyring.Unwrap(ctx, blob.WrappedDEK)
    if err != nil {
        return nil, fmt.Errorf("%w: unwrap dek: %v", ErrKeyManagement, err)
    }
    defer zeroize(dek)
    if len(dek) != dekSize {
        return nil, fmt.Errorf("%w: unwrapped dek has wrong size", ErrKeyManagement)
    }

    aead, err := newAEAD(dek)
    if err != nil {
        return nil, err
    }
    sealed := make([]byte, 0, len(blob.Ciphertext)+len(blob.Tag))
    sealed = append(sealed, blob.Ciphertext...)
    sealed = append(sealed, blob.Tag...)

    plaintext, err := aead.Open(nil, blob.Nonce, sealed, nil)
    if err != nil {
        return nil, fmt.Errorf("%w: authentication failed", ErrIntegrity)
    }
    return plaintext, nil
}

func newAEAD(dek []byte) (cipher.AEAD, error) {
    block, err := aes.NewCipher(dek)
    if err != nil {
        return nil, fmt.Errorf("create cipher: %w", err)
    }
    aead, err := cipher.NewGCM(block)
    if err != nil {
        return nil, fmt.Errorf("create gcm: %w", err)
    }
    return aead, nil
}

// zeroize overwrites key material in place. Go gives no hard guarantee
// the compiler keeps the writes, but it removes the copy from the
// obvious heap dump paths.
func zeroize(b []byte) {
    for i := range b {
        b[i] = 0
    }
}
