package store

import (
    "context"
    "sync"
    "time"
)

type refreshRecord struct {
    expiresAt time.Time
    usedAt    time.Time
    used      bool
}

// Memory is an in-process SessionStore. It backs tests and lets a dev
// instance run without Redis; the server degrades to it when no Redis
// client can be constructed. A single mutex provides the per-key
// atomicity that the Redis implementation gets from its Lua script.
type Memory struct {
    mu            sync.Mutex
    refresh       map[string]*refreshRecord        // accountID:jti
    refreshByAcct map[string]map[string]struct{}   // accountID -> jtis
    accessByAcct  map[string]map[string]time.Time  // accountID -> jti -> expiry
    revoked       map[string]time.Time             // jti -> marker expiry
    usedRetention time.Duration
    accessTTL     time.Duration
    now           func() time.Time
}

// NewMemory returns an empty in-memory session store.
func NewMemory(accessTTL, usedRetention time.Duration) *Memory {
    return &Memory{
        refresh:       make(map[string]*refreshRecord),
        refreshByAcct: make(map[string]map[string]struct{}),
        accessByAcct:  make(map[string]map[string]time.Time),
        revoked:       make(map[string]time.Time),
        usedRetention: usedRetention,
        accessTTL:     accessTTL,
        now:           func() time.Time { return time.Now().UTC() },
    }
}

// SetClock overrides the time source; intended for tests.
func (s *Memory) SetClock(now func() time.Time) { s.now = now }

func memKey(accountID, jti string) string { return accountID + ":" + jti }

func (s *Memory) RegisterRefresh(ctx context.Context, accountID, jti string, ttl time.Duration) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.refresh[memKey(accountID, jti)] = &refreshRecord{expiresAt: s.now().Add(ttl)}
    if s.refreshByAcct[accountID] == nil {
        s.refreshByAcct[accountID] = make(map[string]struct{})
    }
    s.refreshByAcct[accountID][jti] = struct{}{}
    return nil
}

func (s *Memory) RedeemRefresh(ctx context.Context, accountID, jti string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now()
    rec, ok := s.refresh[memKey(accountID, jti)]
    if !ok || now.After(rec.expiresAt) {
        return false, nil
    }
    if rec.used {
        return false, nil
    }
    rec.used = true
    rec.usedAt = now
    rec.expiresAt = now.Add(s.usedRetention) // audit window
    delete(s.refreshByAcct[accountID], jti)
    return true, nil
}

func (s *Memory) TrackAccess(ctx context.Context, accountID, jti string, ttl time.Duration) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.accessByAcct[accountID] == nil {
        s.accessByAcct[accountID] = make(map[string]time.Time)
    }
    s.accessByAcct[accountID][jti] = s.now().Add(ttl)
    return nil
}

func (s *Memory) RevokeAccess(ctx context.Context, jti string, ttl time.Duration) error {
    if ttl <= 0 {
        return nil
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.revoked[jti] = s.now().Add(ttl)
    return nil
}

func (s *Memory) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    exp, ok := s.revoked[jti]
    if !ok {
        return false, nil
    }
    if s.now().After(exp) {
        delete(s.revoked, jti)
        return false, nil
    }
    return true, nil
}

func (s *Memory) RevokeAllForAccount(ctx context.Context, accountID string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now()
    for jti := range s.refreshByAcct[accountID] {
        delete(s.refresh, memKey(accountID, jti))
    }
    delete(s.refreshByAcct, accountID)
    for jti, exp := range s.accessByAcct[accountID] {
        if now.Before(exp) {
            s.revoked[jti] = now.Add(s.accessTTL)
        }
    }
    delete(s.accessByAcct, accountID)
    return nil
}
