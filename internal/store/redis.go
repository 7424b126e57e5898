package store

import (
    "context"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"
)

// Key layout:
//
//	session:refresh:{account}:{jti}  -> "unused" | "used:<rfc3339>"
//	session:acct:{account}:refresh   -> set of live refresh jtis
//	session:acct:{account}:access    -> set of live access jtis
//	session:revoked:{jti}            -> revocation timestamp
//
// All keys expire on their own; RevokeAllForAccount only accelerates
// what the TTLs would do anyway.

// redeemScript is the atomic test-and-set behind RedeemRefresh. Running
// it server-side guarantees that of two racing redemptions exactly one
// sees "unused". Used records are kept for ARGV[2] seconds as an audit
// window instead of being deleted. The jti leaves the live set in the
// same script, so a racing RevokeAllForAccount can never delete the
// just-written used record.
var redeemScript = redis.NewScript(`
    local v = redis.call('GET', KEYS[1])
    if not v then
        return 0
    end
    if v == 'unused' then
        redis.call('SET', KEYS[1], 'used:' .. ARGV[1], 'EX', ARGV[2])
        redis.call('SREM', KEYS[2], ARGV[3])
        return 1
    end
    return 0
`)

// Redis implements SessionStore on a shared Redis instance.
type Redis struct {
    rdb           *redis.Client
    usedRetention time.Duration
    accessTTL     time.Duration
    refreshTTL    time.Duration
    now           func() time.Time
}

// NewRedis returns a Redis-backed session store. accessTTL and
// refreshTTL bound the lifetimes of the per-account tracking sets;
// usedRetention is how long a redeemed refresh record stays visible.
func NewRedis(rdb *redis.Client, accessTTL, refreshTTL, usedRetention time.Duration) *Redis {
    return &Redis{
        rdb:           rdb,
        usedRetention: usedRetention,
        accessTTL:     accessTTL,
        refreshTTL:    refreshTTL,
        now:           func() time.Time { return time.Now().UTC() },
    }
}

func refreshKey(accountID, jti string) string { return "session:refresh:" + accountID + ":" + jti }
func refreshSetKey(accountID string) string   { return "session:acct:" + accountID + ":refresh" }
func accessSetKey(accountID string) string    { return "session:acct:" + accountID + ":access" }
func revokedKey(jti string) string            { return "session:revoked:" + jti }

func (s *Redis) RegisterRefresh(ctx context.Context, accountID, jti string, ttl time.Duration) error {
    pipe := s.rdb.TxPipeline()
    pipe.Set(ctx, refreshKey(accountID, jti), "unused", ttl)
    pipe.SAdd(ctx, refreshSetKey(accountID), jti)
    pipe.Expire(ctx, refreshSetKey(accountID), s.refreshTTL)
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("register refresh: %w", err)
    }
    return nil
}

func (s *Redis) RedeemRefresh(ctx context.Context, accountID, jti string) (bool, error) {
    retention := int(s.usedRetention / time.Second)
    if retention < 1 {
        retention = 1
    }
    res, err := redeemScript.Run(ctx, s.rdb,
        []string{refreshKey(accountID, jti), refreshSetKey(accountID)},
        s.now().Format(time.RFC3339), retention, jti,
    ).Int()
    if err != nil {
        return false, fmt.Errorf("redeem refresh: %w", err)
    }
    return res == 1, nil
}

func (s *Redis) TrackAccess(ctx context.Context, accountID, jti string, ttl time.Duration) error {
    pipe := s.rdb.TxPipeline()
    pipe.SAdd(ctx, accessSetKey(accountID), jti)
    pipe.Expire(ctx, accessSetKey(accountID), ttl)
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("track access: %w", err)
    }
    return nil
}

func (s *Redis) RevokeAccess(ctx context.Context, jti string, ttl time.Duration) error {
    if ttl <= 0 {
        return nil // already past its natural expiry
    }
    if err := s.rdb.Set(ctx, revokedKey(jti), s.now().Format(time.RFC3339), ttl).Err(); err != nil {
        return fmt.Errorf("revoke access: %w", err)
    }
    return nil
}

func (s *Redis) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
    n, err := s.rdb.Exists(ctx, revokedKey(jti)).Result()
    if err != nil {
        return false, fmt.Errorf("revocation lookup: %w", err)
    }
    return n > 0, nil
}

func (s *Redis) RevokeAllForAccount(ctx context.Context, accountID string) error {
    refreshJTIs, err := s.rdb.SMembers(ctx, refreshSetKey(accountID)).Result()
    if err != nil {
        return fmt.Errorf("revoke all: list refresh: %w", err)
    }
    accessJTIs, err := s.rdb.SMembers(ctx, accessSetKey(accountID)).Result()
    if err != nil {
        return fmt.Errorf("revoke all: list access: %w", err)
    }

    pipe := s.rdb.TxPipeline()
    for _, jti := range refreshJTIs {
        pipe.Del(ctx, refreshKey(accountID, jti))
    }
    for _, jti := range accessJTIs {
        pipe.Set(ctx, revokedKey(jti), s.now().Format(time.RFC3339), s.accessTTL)
    }
    pipe.Del(ctx, refreshSetKey(accountID))
    pipe.Del(ctx, accessSetKey(accountID))
    if _, err := pipe.Exec(ctx); err != nil {
        return fmt.Errorf("revoke all: %w", err)
    }
    return nil
}
