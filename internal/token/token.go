// Package token issues and verifies the signed identity assertions of
// the platform. Tokens are RS256 JWTs: signing needs the private key
// held by this service, while any other service instance can verify with
// just the public key. Access and refresh tokens carry an explicit kind
// claim that is checked on verification, never inferred from a valid
// signature alone.
package token

import (
    "context"
    "crypto/rsa"
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"

    "github.com/mkarimova/pet-care-platform/internal/model"
    "github.com/mkarimova/pet-care-platform/internal/store"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
    KindAccess  Kind = "access"
    KindRefresh Kind = "refresh"
)

// ErrInvalidToken covers every verification failure: bad signature,
// wrong algorithm, expired, malformed, wrong kind, revoked. The single
// value is deliberate; distinguishing the cases would hand an attacker
// an oracle.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload of an access or refresh token.
type Claims struct {
    Role model.Role `json:"role"`
    Kind Kind       `json:"kind"`
    jwt.RegisteredClaims
}

// Pair bundles a freshly issued access/refresh token pair.
type Pair struct {
    AccessToken      string
    RefreshToken     string
    AccessJTI        string
    RefreshJTI       string
    AccessExpiresAt  time.Time
    RefreshExpiresAt time.Time
    ExpiresIn        int64 // access token lifetime in seconds
}

// Service signs and verifies token pairs and keeps the whitelist store
// in sync with issuance.
type Service struct {
    private    *rsa.PrivateKey
    public     *rsa.PublicKey
    sessions   store.SessionStore
    accessTTL  time.Duration
    refreshTTL time.Duration
    now        func() time.Time
}

// NewService builds a token service around an RSA keypair and the
// session store that tracks issued refresh tokens.
func NewService(private *rsa.PrivateKey, sessions store.SessionStore, accessTTL, refreshTTL time.Duration) *Service {
    return &Service{
        private:    private,
        public:     &private.PublicKey,
        sessions:   sessions,
        accessTTL:  accessTTL,
        refreshTTL: refreshTTL,
        now:        func() time.Time { return time.Now().UTC() },
    }
}

// IssuePair mints a signed access/refresh pair for the account. The
// refresh jti is registered as unused in the whitelist and the access
// jti is tracked so a later revoke-all can void it.
func (s *Service) IssuePair(ctx context.Context, accountID string, role model.Role) (Pair, error) {
    now := s.now()
    accessJTI := uuid.NewString()
    refreshJTI := uuid.NewString()
    accessExp := now.Add(s.accessTTL)
    refreshExp := now.Add(s.refreshTTL)

    access, err := s.sign(accountID, role, KindAccess, accessJTI, now, accessExp)
    if err != nil {
        return Pair{}, fmt.Errorf("sign access token: %w", err)
    }
    refresh, err := s.sign(accountID, role, KindRefresh, refreshJTI, now, refreshExp)
    if err != nil {
        return Pair{}, fmt.Errorf("sign refresh token: %w", err)
    }

    if err := s.sessions.RegisterRefresh(ctx, accountID, refreshJTI, s.refreshTTL); err != nil {
        return Pair{}, err
    }
    if err := s.sessions.TrackAccess(ctx, accountID, accessJTI, s.accessTTL); err != nil {
        return Pair{}, err
    }

    return Pair{
        AccessToken:      access,
        RefreshToken:     refresh,
        AccessJTI:        accessJTI,
        RefreshJTI:       refreshJTI,
        AccessExpiresAt:  accessExp,
        RefreshExpiresAt: refreshExp,
        ExpiresIn:        int64(s.accessTTL.Seconds()),
    }, nil
}

func (s *Service) sign(accountID string, role model.Role, kind Kind, jti string, iat, exp time.Time) (string, error) {
    claims := Claims{
        Role: role,
        Kind: kind,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   accountID,
            ID:        jti,
            IssuedAt:  jwt.NewNumericDate(iat),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
}

// Verify validates signature and expiry, then checks the kind claim
// explicitly. For access tokens it additionally consults the revocation
// store; a store failure surfaces as an error, it is never read as "not
// revoked".
func (s *Service) Verify(ctx context.Context, raw string, kind Kind) (*Claims, error) {
    claims := &Claims{}
    tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
        // The accepted algorithm is pinned; "none" and HMAC lookalikes
        // never reach the key.
        if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
            return nil, ErrInvalidToken
        }
        return s.public, nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithTimeFunc(s.now))
    if err != nil || !tok.Valid {
        return nil, ErrInvalidToken
    }
    if claims.Kind != kind {
        return nil, ErrInvalidToken
    }
    if kind == KindAccess {
        revoked, err := s.sessions.IsAccessRevoked(ctx, claims.ID)
        if err != nil {
            return nil, err
        }
        if revoked {
            return nil, ErrInvalidToken
        }
    }
    return claims, nil
}

// AccessTTL exposes the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }
