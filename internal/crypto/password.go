package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword returns a bcrypt digest using the given cost. bcrypt
// embeds a fresh random salt per call, so hashing the same password
// twice yields different digests.
func HashPassword(plain string, cost int) (string, error) {
    b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
    if err != nil {
        return "", err
    }
    return string(b), nil
}

// VerifyPassword compares a bcrypt digest and a plain password. It
// returns false for malformed or empty digests rather than erroring, so
// callers can treat "no match" uniformly whether the digest is absent or
// just wrong.
func VerifyPassword(digest, plain string) bool {
    return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain)) == nil
}
