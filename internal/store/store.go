// Package store tracks outstanding refresh tokens and revoked access
// tokens. It is the only mutable shared state in the security core; all
// entries are keyed by (accountID, jti) or jti alone and carry explicit
// TTLs mirroring the token lifetimes, so correctness reduces to per-key
// atomicity.
package store

import (
    "context"
    "time"
)

// SessionStore is the whitelist/revocation contract consumed by the
// token service and the session orchestrator.
//
// RedeemRefresh implements rotation with reuse detection: the first
// redemption of a jti returns firstUse=true, every later redemption of
// the same jti returns firstUse=false. The operation is atomic; two
// concurrent redemptions of one token must not both observe firstUse.
// A jti with no record (already revoked, or expired) also reports
// firstUse=false so the caller treats it as a replay signal.
type SessionStore interface {
    // RegisterRefresh records a freshly issued refresh jti as unused.
    RegisterRefresh(ctx context.Context, accountID, jti string, ttl time.Duration) error

    // RedeemRefresh marks the jti used and reports whether this call was
    // the first redemption. Used records are retained for an audit
    // window rather than deleted immediately.
    RedeemRefresh(ctx context.Context, accountID, jti string) (firstUse bool, err error)

    // TrackAccess remembers a live access jti for the account so that
    // RevokeAllForAccount can void it before its natural expiry.
    TrackAccess(ctx context.Context, accountID, jti string, ttl time.Duration) error

    // RevokeAccess marks an access jti revoked for at most ttl; there is
    // no need to remember revocations past the token's natural expiry.
    RevokeAccess(ctx context.Context, jti string, ttl time.Duration) error

    // IsAccessRevoked reports whether the access jti has been revoked.
    // Infrastructure failure surfaces as an error, never as "not
    // revoked".
    IsAccessRevoked(ctx context.Context, jti string) (bool, error)

    // RevokeAllForAccount voids every outstanding refresh token and every
    // tracked live access token of the account.
    RevokeAllForAccount(ctx context.Context, accountID string) error
}
