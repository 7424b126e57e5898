package token

import (
    "crypto/rsa"
    "fmt"
    "os"

    "github.com/golang-jwt/jwt/v5"
)

// LoadPrivateKey reads a PEM-encoded RSA private key from disk. The
// keypair is loaded once per process lifetime and shared read-only.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
    pemBytes, err := os.ReadFile(path)
    if err != nil {
        return nil, fmt.Errorf("read signing key: %w", err)
    }
    key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
    if err != nil {
        return nil, fmt.Errorf("parse signing key: %w", err)
    }
    return key, nil
}
