package auth

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/crypto/bcrypt"

    "github.com/mkarimova/pet-care-platform/internal/audit"
    "github.com/mkarimova/pet-care-platform/internal/crypto"
    "github.com/mkarimova/pet-care-platform/internal/kms"
    "github.com/mkarimova/pet-care-platform/internal/model"
    "github.com/mkarimova/pet-care-platform/internal/store"
    "github.com/mkarimova/pet-care-platform/internal/token"
)

// ----- fakes -----

// memAccounts is an in-memory AccountStore mirroring the MySQL
// repository's semantics, including patch application.
type memAccounts struct {
    mu      sync.Mutex
    byID    map[string]*model.Account
    byEmail map[string]string // email index -> id
    byOAuth map[string]string // provider|externalID -> id
}

func newMemAccounts() *memAccounts {
    return &memAccounts{
        byID:    make(map[string]*model.Account),
        byEmail: make(map[string]string),
        byOAuth: make(map[string]string),
    }
}

func oauthKey(provider, externalID string) string { return provider + "|" + externalID }

func (m *memAccounts) FindByEmailIndex(ctx context.Context, emailIndex string) (*model.Account, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id, ok := m.byEmail[emailIndex]
    if !ok {
        return nil, ErrAccountNotFound
    }
    cp := *m.byID[id]
    return &cp, nil
}

func (m *memAccounts) FindByID(ctx context.Context, id string) (*model.Account, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    a, ok := m.byID[id]
    if !ok {
        return nil, ErrAccountNotFound
    }
    cp := *a
    return &cp, nil
}

func (m *memAccounts) FindByOAuth(ctx context.Context, provider, externalID string) (*model.Account, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id, ok := m.byOAuth[oauthKey(provider, externalID)]
    if !ok {
        return nil, ErrAccountNotFound
    }
    cp := *m.byID[id]
    return &cp, nil
}

func (m *memAccounts) Create(ctx context.Context, a *model.Account) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, exists := m.byEmail[a.EmailIndex]; exists {
        return ErrDuplicateEmail
    }
    cp := *a
    m.byID[a.ID] = &cp
    m.byEmail[a.EmailIndex] = a.ID
    if a.OAuthProvider != nil && a.OAuthExternalID != nil {
        m.byOAuth[oauthKey(*a.OAuthProvider, *a.OAuthExternalID)] = a.ID
    }
    return nil
}

func (m *memAccounts) Update(ctx context.Context, id string, patch model.AccountPatch) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    a, ok := m.byID[id]
    if !ok {
        return ErrAccountNotFound
    }
    if patch.PasswordHash != nil {
        a.PasswordHash = patch.PasswordHash
    }
    if patch.FailedLogins != nil {
        a.FailedLogins = *patch.FailedLogins
    }
    if patch.LockedUntil != nil {
        a.LockedUntil = patch.LockedUntil
    }
    if patch.ClearLockout {
        a.LockedUntil = nil
    }
    if patch.Status != nil {
        a.Status = *patch.Status
    }
    if patch.LastLoginAt != nil {
        a.LastLoginAt = patch.LastLoginAt
    }
    if patch.LastLoginIP != nil {
        a.LastLoginIP = patch.LastLoginIP
    }
    if patch.OAuthProvider != nil {
        a.OAuthProvider = patch.OAuthProvider
    }
    if patch.OAuthExternalID != nil {
        a.OAuthExternalID = patch.OAuthExternalID
    }
    if a.OAuthProvider != nil && a.OAuthExternalID != nil {
        m.byOAuth[oauthKey(*a.OAuthProvider, *a.OAuthExternalID)] = id
    }
    return nil
}

// recorderStub captures audit events for assertions.
type recorderStub struct {
    mu     sync.Mutex
    events []audit.Event
}

func (r *recorderStub) Record(ctx context.Context, ev audit.Event) error {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.events = append(r.events, ev)
    return nil
}

func (r *recorderStub) has(action audit.Action) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    for _, ev := range r.events {
        if ev.Action == action {
            return true
        }
    }
    return false
}

// ----- harness -----

var (
    testKeyOnce sync.Once
    testKey     *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
    t.Helper()
    testKeyOnce.Do(func() {
        k, err := rsa.GenerateKey(rand.Reader, 2048)
        if err != nil {
            panic(err)
        }
        testKey = k
    })
    return testKey
}

type harness struct {
    svc      *Service
    accounts *memAccounts
    sessions *store.Memory
    recorder *recorderStub
}

func newHarness(t *testing.T) *harness {
    t.Helper()
    accounts := newMemAccounts()
    sessions := store.NewMemory(15*time.Minute, time.Hour)
    tokens := token.NewService(signingKey(t), sessions, 15*time.Minute, 7*24*time.Hour)

    keyring, err := kms.NewLocal(make([]byte, 32))
    require.NoError(t, err)
    recorder := &recorderStub{}

    svc, err := New(Config{
        Accounts:        accounts,
        Sessions:        sessions,
        Tokens:          tokens,
        Engine:          crypto.NewEngine(keyring),
        Indexer:         crypto.NewIndexer([]byte("test-index-secret")),
        Audit:           recorder,
        BcryptCost:      bcrypt.MinCost,
        MaxFailedLogins: 5,
        LockoutDuration: 15 * time.Minute,
    })
    require.NoError(t, err)
    return &harness{svc: svc, accounts: accounts, sessions: sessions, recorder: recorder}
}

var testCaller = CallerContext{IP: "203.0.113.7", UserAgent: "test-agent"}

func (h *harness) register(t *testing.T, email, password string) *Session {
    t.Helper()
    s, err := h.svc.Register(context.Background(), RegisterInput{Email: email, Password: password}, testCaller)
    require.NoError(t, err)
    return s
}

// ----- register -----

func TestRegisterIssuesTokensAndConflicts(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    s := h.register(t, "a@x.com", "Str0ng!Pass")
    assert.Equal(t, "a@x.com", s.Account.Email)
    assert.Equal(t, model.RoleCustomer, s.Account.Role)
    assert.NotEmpty(t, s.Tokens.AccessToken)
    assert.NotEmpty(t, s.Tokens.RefreshToken)
    assert.True(t, h.recorder.has(audit.ActionRegister))

    // Same email again, even with different case, is a generic conflict.
    _, err := h.svc.Register(ctx, RegisterInput{Email: " A@X.com ", Password: "Other!Pass1"}, testCaller)
    assert.ErrorIs(t, err, ErrConflict)
}

func TestRegisterStoresEncryptedPhone(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    s, err := h.svc.Register(ctx, RegisterInput{
        Email:    "p@x.com",
        Password: "Str0ng!Pass",
        Phone:    "+371 20000000",
    }, testCaller)
    require.NoError(t, err)
    assert.Equal(t, "+371 20000000", s.Account.Phone, "view carries the decrypted phone")

    stored, err := h.accounts.FindByID(ctx, s.Account.ID)
    require.NoError(t, err)
    require.NotNil(t, stored.PhoneIndex)
    assert.NotContains(t, string(stored.PhoneBlob), "20000000", "phone is never stored in the clear")
}

func TestLoginFailsOnTamperedPhoneBlob(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    s, err := h.svc.Register(ctx, RegisterInput{
        Email:    "p@x.com",
        Password: "Str0ng!Pass",
        Phone:    "+371 20000000",
    }, testCaller)
    require.NoError(t, err)

    // Corrupt the stored blob: undecodable ciphertext material.
    h.accounts.mu.Lock()
    stored := h.accounts.byID[s.Account.ID]
    blob, err := crypto.UnmarshalBlob(stored.PhoneBlob)
    require.NoError(t, err)
    blob.Ciphertext[0] ^= 0x01
    raw, err := blob.Marshal()
    require.NoError(t, err)
    stored.PhoneBlob = raw
    h.accounts.mu.Unlock()

    // The tampering signal must fail the login, never yield a session
    // with a silently empty phone.
    got, err := h.svc.Login(ctx, "p@x.com", "Str0ng!Pass", testCaller)
    require.ErrorIs(t, err, crypto.ErrIntegrity)
    assert.Nil(t, got)

    // A blob that does not even parse is the same class of failure.
    h.accounts.mu.Lock()
    stored.PhoneBlob = []byte("not a blob")
    h.accounts.mu.Unlock()
    _, err = h.svc.Login(ctx, "p@x.com", "Str0ng!Pass", testCaller)
    assert.ErrorIs(t, err, crypto.ErrIntegrity)
}

func TestRegisterValidation(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    _, err := h.svc.Register(ctx, RegisterInput{Email: "", Password: "x"}, testCaller)
    assert.ErrorIs(t, err, ErrValidation)
    _, err = h.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: ""}, testCaller)
    assert.ErrorIs(t, err, ErrValidation)
}

// ----- login -----

func TestLoginSuccessResetsCounters(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    _, err := h.svc.Login(ctx, "a@x.com", "wrong", testCaller)
    assert.ErrorIs(t, err, ErrInvalidCredentials)

    got, err := h.svc.Login(ctx, "A@X.com", "Str0ng!Pass", testCaller)
    require.NoError(t, err)
    assert.Equal(t, s.Account.ID, got.Account.ID)

    stored, err := h.accounts.FindByID(ctx, s.Account.ID)
    require.NoError(t, err)
    assert.Equal(t, 0, stored.FailedLogins)
}

func TestLoginEnumerationResistance(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    h.register(t, "a@x.com", "Str0ng!Pass")

    _, errUnknown := h.svc.Login(ctx, "nobody@x.com", "whatever", testCaller)
    _, errWrongPass := h.svc.Login(ctx, "a@x.com", "wrong", testCaller)

    require.Error(t, errUnknown)
    require.Error(t, errWrongPass)
    assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
    assert.ErrorIs(t, errWrongPass, ErrInvalidCredentials)
    assert.Equal(t, errUnknown.Error(), errWrongPass.Error(),
        "unknown account and wrong password must be indistinguishable")
}

func TestLockoutBoundary(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    // Four failures: generic error, no lockout yet.
    for i := 0; i < 4; i++ {
        _, err := h.svc.Login(ctx, "a@x.com", "wrong", testCaller)
        require.ErrorIs(t, err, ErrInvalidCredentials)
        assert.NotErrorIs(t, err, ErrAccountLocked)
    }

    // The fifth failure trips the lockout and reports the expiry.
    _, err := h.svc.Login(ctx, "a@x.com", "wrong", testCaller)
    var locked *LockedError
    require.ErrorAs(t, err, &locked)
    assert.WithinDuration(t, time.Now().UTC().Add(15*time.Minute), locked.Until, 5*time.Second)
    assert.True(t, h.recorder.has(audit.ActionLockout))

    // A sixth attempt with the CORRECT password is still rejected: the
    // lockout gates login before any password check.
    _, err = h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    require.ErrorAs(t, err, &locked)
    assert.True(t, h.recorder.has(audit.ActionLoginLocked))

    stored, err2 := h.accounts.FindByID(ctx, s.Account.ID)
    require.NoError(t, err2)
    assert.Equal(t, 5, stored.FailedLogins, "a gated attempt must not move the counter")
}

func TestLockoutExpiryAllowsLogin(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    h.register(t, "a@x.com", "Str0ng!Pass")

    for i := 0; i < 5; i++ {
        _, _ = h.svc.Login(ctx, "a@x.com", "wrong", testCaller)
    }
    _, err := h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    assert.ErrorIs(t, err, ErrAccountLocked)

    h.svc.now = func() time.Time { return time.Now().UTC().Add(16 * time.Minute) }
    got, err := h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    require.NoError(t, err)
    assert.NotEmpty(t, got.Tokens.AccessToken)
}

func TestLoginGatedByStatus(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    suspended := model.StatusSuspended
    require.NoError(t, h.accounts.Update(ctx, s.Account.ID, model.AccountPatch{Status: &suspended}))

    _, err := h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    assert.ErrorIs(t, err, ErrAccountNotActive)
}

// ----- refresh -----

func TestRefreshRotationAndReplay(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    // First rotation succeeds and yields a fresh pair.
    second, err := h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    require.NoError(t, err)
    assert.NotEqual(t, s.Tokens.RefreshJTI, second.Tokens.RefreshJTI)

    // Replaying the consumed token is theft: hard failure...
    _, err = h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    assert.ErrorIs(t, err, ErrTokenReplayDetected)
    assert.True(t, h.recorder.has(audit.ActionReplayDetected))

    // ...and the remediation voided the second pair as well.
    _, err = h.svc.Refresh(ctx, second.Tokens.RefreshToken, testCaller)
    assert.ErrorIs(t, err, ErrTokenReplayDetected)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    _, err := h.svc.Refresh(ctx, s.Tokens.AccessToken, testCaller)
    assert.ErrorIs(t, err, ErrInvalidCredentials)
}

// ----- logout -----

func TestLogoutRevokesEverything(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    require.NoError(t, h.svc.Logout(ctx, s.Tokens.AccessToken, testCaller))
    assert.True(t, h.recorder.has(audit.ActionLogout))

    revoked, err := h.sessions.IsAccessRevoked(ctx, s.Tokens.AccessJTI)
    require.NoError(t, err)
    assert.True(t, revoked)

    _, err = h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    assert.ErrorIs(t, err, ErrTokenReplayDetected)
}

// ----- change password -----

func TestChangePassword(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    err := h.svc.ChangePassword(ctx, s.Account.ID, "wrong", "N3w!Password", testCaller)
    assert.ErrorIs(t, err, ErrInvalidCredentials)

    require.NoError(t, h.svc.ChangePassword(ctx, s.Account.ID, "Str0ng!Pass", "N3w!Password", testCaller))
    assert.True(t, h.recorder.has(audit.ActionPasswordChange))

    // Every outstanding session is gone.
    _, err = h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    assert.ErrorIs(t, err, ErrTokenReplayDetected)

    // Old password is dead, new one works.
    _, err = h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    assert.ErrorIs(t, err, ErrInvalidCredentials)
    _, err = h.svc.Login(ctx, "a@x.com", "N3w!Password", testCaller)
    assert.NoError(t, err)
}

// ----- account administration -----

func TestSetAccountStatus(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    require.ErrorIs(t, h.svc.SetAccountStatus(ctx, "admin-1", s.Account.ID, "NONSENSE", testCaller), ErrValidation)
    require.ErrorIs(t, h.svc.SetAccountStatus(ctx, "admin-1", "missing", model.StatusSuspended, testCaller), ErrAccountNotFound)

    require.NoError(t, h.svc.SetAccountStatus(ctx, "admin-1", s.Account.ID, model.StatusSuspended, testCaller))
    assert.True(t, h.recorder.has(audit.ActionStatusChange))

    // Suspension voids every outstanding session.
    _, err := h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    assert.ErrorIs(t, err, ErrTokenReplayDetected)
    _, err = h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    assert.ErrorIs(t, err, ErrAccountNotActive)

    // Reactivation restores login.
    require.NoError(t, h.svc.SetAccountStatus(ctx, "admin-1", s.Account.ID, model.StatusActive, testCaller))
    _, err = h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    assert.NoError(t, err)
}

// ----- oauth -----

func TestOAuthLoginCreatesPreVerifiedAccount(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    in := OAuthInput{Provider: "google", ExternalID: "ext-123", Email: "oauth@x.com"}
    s, err := h.svc.OAuthLogin(ctx, in, testCaller)
    require.NoError(t, err)
    assert.Equal(t, model.StatusActive, s.Account.Status)

    stored, err := h.accounts.FindByID(ctx, s.Account.ID)
    require.NoError(t, err)
    assert.Nil(t, stored.PasswordHash, "provider-created accounts have no password")

    // Password login against an OAuth-only account fails generically.
    _, err = h.svc.Login(ctx, "oauth@x.com", "anything", testCaller)
    assert.ErrorIs(t, err, ErrInvalidCredentials)

    // The same identity resolves to the same account next time.
    again, err := h.svc.OAuthLogin(ctx, in, testCaller)
    require.NoError(t, err)
    assert.Equal(t, s.Account.ID, again.Account.ID)
}

func TestOAuthLoginLinksByEmailIndex(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()
    s := h.register(t, "a@x.com", "Str0ng!Pass")

    linked, err := h.svc.OAuthLogin(ctx, OAuthInput{
        Provider: "google", ExternalID: "ext-9", Email: "A@X.com",
    }, testCaller)
    require.NoError(t, err)
    assert.Equal(t, s.Account.ID, linked.Account.ID)
    assert.True(t, h.recorder.has(audit.ActionOAuthLink))

    stored, err := h.accounts.FindByID(ctx, s.Account.ID)
    require.NoError(t, err)
    require.NotNil(t, stored.OAuthProvider)
    assert.Equal(t, "google", *stored.OAuthProvider)
    assert.NotNil(t, stored.PasswordHash, "linking keeps the existing password")
}

// ----- full scenario -----

// TestEndToEndScenario walks the canonical flow: register, duplicate
// registration, refresh rotation, replay remediation, then lockout.
func TestEndToEndScenario(t *testing.T) {
    h := newHarness(t)
    ctx := context.Background()

    s := h.register(t, "a@x.com", "Str0ng!Pass")
    _, err := h.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "Str0ng!Pass"}, testCaller)
    require.ErrorIs(t, err, ErrConflict)

    rotated, err := h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    require.NoError(t, err)

    _, err = h.svc.Refresh(ctx, s.Tokens.RefreshToken, testCaller)
    require.ErrorIs(t, err, ErrTokenReplayDetected)
    _, err = h.svc.Refresh(ctx, rotated.Tokens.RefreshToken, testCaller)
    require.ErrorIs(t, err, ErrTokenReplayDetected, "replay voids the rotated token too")

    var locked *LockedError
    for i := 0; i < 4; i++ {
        _, err = h.svc.Login(ctx, "a@x.com", "bad", testCaller)
        require.ErrorIs(t, err, ErrInvalidCredentials)
    }
    _, err = h.svc.Login(ctx, "a@x.com", "bad", testCaller)
    require.ErrorAs(t, err, &locked, "fifth failure reports the lockout")
    _, err = h.svc.Login(ctx, "a@x.com", "Str0ng!Pass", testCaller)
    require.ErrorIs(t, err, ErrAccountLocked, "a locked account is rejected without a password check")
}
