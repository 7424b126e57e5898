// Package auth implements the session orchestrator: it composes the
// credential verifier, the deterministic index, the encryption engine,
// the token service and the session store into the register / login /
// refresh / logout / change-password / OAuth flows, and enforces the
// account lockout policy.
package auth

import (
    "context"
    "errors"
    "log"
    "strconv"
    "time"

    "github.com/google/uuid"

    "github.com/mkarimova/pet-care-platform/internal/audit"
    "github.com/mkarimova/pet-care-platform/internal/crypto"
    "github.com/mkarimova/pet-care-platform/internal/model"
    "github.com/mkarimova/pet-care-platform/internal/store"
    "github.com/mkarimova/pet-care-platform/internal/token"
)

// AccountStore is the persistence contract for identity records. The
// storage engine lives outside this core; implementations must provide
// at-most-once durability per call and return ErrAccountNotFound /
// ErrDuplicateEmail where applicable.
type AccountStore interface {
    FindByEmailIndex(ctx context.Context, emailIndex string) (*model.Account, error)
    FindByID(ctx context.Context, id string) (*model.Account, error)
    FindByOAuth(ctx context.Context, provider, externalID string) (*model.Account, error)
    Create(ctx context.Context, acct *model.Account) error
    Update(ctx context.Context, id string, patch model.AccountPatch) error
}

// CallerContext carries request metadata into audit events.
type CallerContext struct {
    IP        string
    UserAgent string
}

// Session is the result of any flow that establishes a session.
type Session struct {
    Account model.AccountView
    Tokens  token.Pair
}

const (
    purposeAuth     = "authentication and session management"
    purposeSecurity = "account security and abuse prevention"

    legalBasisContract   = "contract"
    legalBasisLegitimate = "legitimate_interest"
)

// Config bundles the collaborators and policy knobs of the orchestrator.
type Config struct {
    Accounts        AccountStore
    Sessions        store.SessionStore
    Tokens          *token.Service
    Engine          *crypto.Engine
    Indexer         *crypto.Indexer
    Audit           audit.Recorder
    BcryptCost      int
    MaxFailedLogins int           // lockout threshold, default 5
    LockoutDuration time.Duration // default 15 minutes
}

// Service is the session orchestrator.
type Service struct {
    accounts        AccountStore
    sessions        store.SessionStore
    tokens          *token.Service
    engine          *crypto.Engine
    indexer         *crypto.Indexer
    auditor         audit.Recorder
    bcryptCost      int
    maxFailedLogins int
    lockoutDuration time.Duration
    dummyDigest     string
    now             func() time.Time
}

// New builds the orchestrator. The dummy digest is hashed once here so
// that logins against unknown emails pay the same bcrypt cost as logins
// against real accounts.
func New(cfg Config) (*Service, error) {
    if cfg.MaxFailedLogins <= 0 {
        cfg.MaxFailedLogins = 5
    }
    if cfg.LockoutDuration <= 0 {
        cfg.LockoutDuration = 15 * time.Minute
    }
    dummy, err := crypto.HashPassword(uuid.NewString(), cfg.BcryptCost)
    if err != nil {
        return nil, err
    }
    return &Service{
        accounts:        cfg.Accounts,
        sessions:        cfg.Sessions,
        tokens:          cfg.Tokens,
        engine:          cfg.Engine,
        indexer:         cfg.Indexer,
        auditor:         cfg.Audit,
        bcryptCost:      cfg.BcryptCost,
        maxFailedLogins: cfg.MaxFailedLogins,
        lockoutDuration: cfg.LockoutDuration,
        dummyDigest:     dummy,
        now:             func() time.Time { return time.Now().UTC() },
    }, nil
}

// ----- Register -----

// RegisterInput is the payload for account creation. Consent metadata is
// recorded in the audit trail alongside the registration event.
type RegisterInput struct {
    Email    string
    Password string
    Phone    string // optional; stored encrypted with its own index
    Role     model.Role
}

// Register creates an account and opens its first session. A duplicate
// email surfaces only as a generic ErrConflict.
func (s *Service) Register(ctx context.Context, in RegisterInput, caller CallerContext) (*Session, error) {
    email := crypto.Normalize(in.Email)
    if email == "" || in.Password == "" {
        return nil, ErrValidation
    }
    role := in.Role
    if !role.Valid() {
        role = model.RoleCustomer
    }

    emailIndex := s.indexer.Index(email)
    if _, err := s.accounts.FindByEmailIndex(ctx, emailIndex); err == nil {
        return nil, ErrConflict
    } else if !errors.Is(err, ErrAccountNotFound) {
        return nil, err
    }

    digest, err := crypto.HashPassword(in.Password, s.bcryptCost)
    if err != nil {
        return nil, err
    }

    now := s.now()
    acct := &model.Account{
        ID:           uuid.NewString(),
        Email:        email,
        EmailIndex:   emailIndex,
        PasswordHash: &digest,
        Role:         role,
        Status:       model.StatusActive,
        CreatedAt:    now,
        UpdatedAt:    now,
    }

    phone := crypto.Normalize(in.Phone)
    if phone != "" {
        blob, err := s.engine.Protect(ctx, []byte(phone))
        if err != nil {
            return nil, err
        }
        raw, err := blob.Marshal()
        if err != nil {
            return nil, err
        }
        idx := s.indexer.Index(phone)
        acct.PhoneBlob = raw
        acct.PhoneIndex = &idx
    }

    if err := s.accounts.Create(ctx, acct); err != nil {
        if errors.Is(err, ErrDuplicateEmail) {
            return nil, ErrConflict
        }
        return nil, err
    }

    pair, err := s.tokens.IssuePair(ctx, acct.ID, acct.Role)
    if err != nil {
        return nil, err
    }

    s.audit(ctx, audit.Event{
        ActorID:    acct.ID,
        Action:     audit.ActionRegister,
        Resource:   "account/" + acct.ID,
        Purpose:    purposeAuth,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: now,
        Metadata:   map[string]string{"role": string(acct.Role)},
    })

    return s.session(ctx, acct, pair)
}

// ----- Login -----

// Login authenticates by email and password. An unknown email and a
// wrong password return the identical error; account state (lockout,
// suspension) gates login before the password is even checked.
func (s *Service) Login(ctx context.Context, email, password string, caller CallerContext) (*Session, error) {
    email = crypto.Normalize(email)
    if email == "" || password == "" {
        return nil, ErrValidation
    }
    emailIndex := s.indexer.Index(email)

    acct, err := s.accounts.FindByEmailIndex(ctx, emailIndex)
    if err != nil {
        if errors.Is(err, ErrAccountNotFound) {
            // Burn a bcrypt compare so this path costs the same as a
            // wrong password against a real account.
            crypto.VerifyPassword(s.dummyDigest, password)
            s.audit(ctx, s.securityEvent("", audit.ActionLoginFailed, caller,
                map[string]string{"email_index": emailIndex, "reason": "unknown_account"}))
            return nil, ErrInvalidCredentials
        }
        return nil, err
    }

    now := s.now()
    if acct.Locked(now) {
        s.audit(ctx, s.securityEvent(acct.ID, audit.ActionLoginLocked, caller, nil))
        return nil, &LockedError{Until: *acct.LockedUntil}
    }
    if acct.LockedUntil != nil {
        // The previous lockout has expired; start the counter over.
        zeroFails := 0
        if err := s.accounts.Update(ctx, acct.ID, model.AccountPatch{FailedLogins: &zeroFails, ClearLockout: true}); err != nil {
            return nil, err
        }
        acct.FailedLogins = 0
        acct.LockedUntil = nil
    }
    if acct.Status != model.StatusActive {
        s.audit(ctx, s.securityEvent(acct.ID, audit.ActionLoginFailed, caller,
            map[string]string{"reason": "account_not_active", "status": string(acct.Status)}))
        return nil, ErrAccountNotActive
    }

    digest := s.dummyDigest // OAuth-only accounts have no digest; fail like a wrong password
    if acct.PasswordHash != nil {
        digest = *acct.PasswordHash
    }
    if !crypto.VerifyPassword(digest, password) || acct.PasswordHash == nil {
        return nil, s.recordFailedLogin(ctx, acct, caller)
    }

    if acct.FailedLogins > 0 {
        zeroFails := 0
        if err := s.accounts.Update(ctx, acct.ID, model.AccountPatch{FailedLogins: &zeroFails, ClearLockout: true}); err != nil {
            return nil, err
        }
    }
    s.updateLastLogin(acct.ID, now, caller.IP)

    pair, err := s.tokens.IssuePair(ctx, acct.ID, acct.Role)
    if err != nil {
        return nil, err
    }
    acct.LastLoginAt = &now

    s.audit(ctx, audit.Event{
        ActorID:    acct.ID,
        Action:     audit.ActionLogin,
        Resource:   "account/" + acct.ID,
        Purpose:    purposeAuth,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: now,
    })

    return s.session(ctx, acct, pair)
}

// recordFailedLogin bumps the failure counter and applies the lockout
// policy. The attempt that reaches the threshold returns a LockedError
// carrying the expiry; earlier attempts return the generic error.
func (s *Service) recordFailedLogin(ctx context.Context, acct *model.Account, caller CallerContext) error {
    now := s.now()
    failed := acct.FailedLogins + 1
    patch := model.AccountPatch{FailedLogins: &failed}

    var lockedUntil *time.Time
    if failed >= s.maxFailedLogins {
        until := now.Add(s.lockoutDuration)
        patch.LockedUntil = &until
        lockedUntil = &until
    }
    if err := s.accounts.Update(ctx, acct.ID, patch); err != nil {
        return err
    }

    s.audit(ctx, s.securityEvent(acct.ID, audit.ActionLoginFailed, caller,
        map[string]string{"failed_logins": strconv.Itoa(failed)}))
    if lockedUntil != nil {
        s.audit(ctx, s.securityEvent(acct.ID, audit.ActionLockout, caller,
            map[string]string{"locked_until": lockedUntil.Format(time.RFC3339)}))
        return &LockedError{Until: *lockedUntil}
    }
    return ErrInvalidCredentials
}

// ----- Refresh -----

// Refresh rotates a refresh token: verify, redeem, re-check the
// account, then issue. Redemption strictly precedes issuance; reversing
// the order would reopen the replay window. A second redemption of the
// same jti is treated as theft and voids every session of the account.
func (s *Service) Refresh(ctx context.Context, refreshToken string, caller CallerContext) (*Session, error) {
    claims, err := s.tokens.Verify(ctx, refreshToken, token.KindRefresh)
    if err != nil {
        if errors.Is(err, token.ErrInvalidToken) {
            return nil, ErrInvalidCredentials
        }
        return nil, err
    }

    firstUse, err := s.sessions.RedeemRefresh(ctx, claims.Subject, claims.ID)
    if err != nil {
        return nil, err
    }
    if !firstUse {
        if err := s.sessions.RevokeAllForAccount(ctx, claims.Subject); err != nil {
            log.Printf("auth: revoke-all after replay failed for %s: %v", claims.Subject, err)
        }
        s.audit(ctx, s.securityEvent(claims.Subject, audit.ActionReplayDetected, caller,
            map[string]string{"jti": claims.ID}))
        return nil, ErrTokenReplayDetected
    }

    acct, err := s.accounts.FindByID(ctx, claims.Subject)
    if err != nil {
        if errors.Is(err, ErrAccountNotFound) {
            return nil, ErrInvalidCredentials
        }
        return nil, err
    }
    if acct.Status != model.StatusActive {
        return nil, ErrAccountNotActive
    }
    if acct.Locked(s.now()) {
        return nil, &LockedError{Until: *acct.LockedUntil}
    }

    pair, err := s.tokens.IssuePair(ctx, acct.ID, acct.Role)
    if err != nil {
        return nil, err
    }

    s.audit(ctx, audit.Event{
        ActorID:    acct.ID,
        Action:     audit.ActionRefresh,
        Resource:   "account/" + acct.ID,
        Purpose:    purposeAuth,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: s.now(),
        Metadata:   map[string]string{"rotated_jti": claims.ID},
    })

    return s.session(ctx, acct, pair)
}

// ----- Logout -----

// Logout revokes the presented access token for its remaining lifetime
// and voids every refresh token of the account.
func (s *Service) Logout(ctx context.Context, accessToken string, caller CallerContext) error {
    claims, err := s.tokens.Verify(ctx, accessToken, token.KindAccess)
    if err != nil {
        if errors.Is(err, token.ErrInvalidToken) {
            return ErrInvalidCredentials
        }
        return err
    }

    remaining := claims.ExpiresAt.Time.Sub(s.now())
    if err := s.sessions.RevokeAccess(ctx, claims.ID, remaining); err != nil {
        return err
    }
    if err := s.sessions.RevokeAllForAccount(ctx, claims.Subject); err != nil {
        return err
    }

    s.audit(ctx, audit.Event{
        ActorID:    claims.Subject,
        Action:     audit.ActionLogout,
        Resource:   "account/" + claims.Subject,
        Purpose:    purposeAuth,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: s.now(),
    })
    return nil
}

// ----- Change password -----

// ChangePassword verifies the current password, stores a new digest and
// forces re-login everywhere by revoking all sessions.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string, caller CallerContext) error {
    if next == "" {
        return ErrValidation
    }
    acct, err := s.accounts.FindByID(ctx, accountID)
    if err != nil {
        if errors.Is(err, ErrAccountNotFound) {
            return ErrInvalidCredentials
        }
        return err
    }
    if acct.PasswordHash == nil || !crypto.VerifyPassword(*acct.PasswordHash, current) {
        s.audit(ctx, s.securityEvent(acct.ID, audit.ActionLoginFailed, caller,
            map[string]string{"reason": "password_change_wrong_current"}))
        return ErrInvalidCredentials
    }

    digest, err := crypto.HashPassword(next, s.bcryptCost)
    if err != nil {
        return err
    }
    if err := s.accounts.Update(ctx, acct.ID, model.AccountPatch{PasswordHash: &digest}); err != nil {
        return err
    }
    if err := s.sessions.RevokeAllForAccount(ctx, acct.ID); err != nil {
        return err
    }

    s.audit(ctx, audit.Event{
        ActorID:    acct.ID,
        Action:     audit.ActionPasswordChange,
        Resource:   "account/" + acct.ID,
        Purpose:    purposeSecurity,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: s.now(),
    })
    return nil
}

// ----- Account administration -----

// SetAccountStatus moves an account to a new lifecycle state. Leaving
// StatusActive terminates every session of the account immediately;
// outstanding tokens must not survive a suspension.
func (s *Service) SetAccountStatus(ctx context.Context, actorID, accountID string, status model.Status, caller CallerContext) error {
    switch status {
    case model.StatusActive, model.StatusSuspended, model.StatusDeleted, model.StatusPendingVerification:
    default:
        return ErrValidation
    }
    acct, err := s.accounts.FindByID(ctx, accountID)
    if err != nil {
        return err
    }
    if err := s.accounts.Update(ctx, accountID, model.AccountPatch{Status: &status}); err != nil {
        return err
    }
    if status != model.StatusActive {
        if err := s.sessions.RevokeAllForAccount(ctx, accountID); err != nil {
            return err
        }
    }

    s.audit(ctx, audit.Event{
        ActorID:    actorID,
        Action:     audit.ActionStatusChange,
        Resource:   "account/" + accountID,
        Purpose:    purposeSecurity,
        LegalBasis: legalBasisLegitimate,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: s.now(),
        Metadata:   map[string]string{"from": string(acct.Status), "to": string(status)},
    })
    return nil
}

// ----- OAuth -----

// OAuthInput is the identity asserted by an external provider. Profile
// parsing happens upstream; by the time it reaches the orchestrator the
// email has been verified by the provider.
type OAuthInput struct {
    Provider   string
    ExternalID string
    Email      string
}

// OAuthLogin resolves the provider identity to an account, linking by
// email index or creating a pre-verified account as needed, and opens a
// session.
func (s *Service) OAuthLogin(ctx context.Context, in OAuthInput, caller CallerContext) (*Session, error) {
    if in.Provider == "" || in.ExternalID == "" || crypto.Normalize(in.Email) == "" {
        return nil, ErrValidation
    }
    email := crypto.Normalize(in.Email)
    now := s.now()

    acct, err := s.accounts.FindByOAuth(ctx, in.Provider, in.ExternalID)
    switch {
    case err == nil:
        // known identity
    case errors.Is(err, ErrAccountNotFound):
        acct, err = s.linkOrCreate(ctx, in, email, caller)
        if err != nil {
            return nil, err
        }
    default:
        return nil, err
    }

    if acct.Locked(now) {
        return nil, &LockedError{Until: *acct.LockedUntil}
    }
    if acct.Status != model.StatusActive {
        return nil, ErrAccountNotActive
    }

    s.updateLastLogin(acct.ID, now, caller.IP)
    pair, err := s.tokens.IssuePair(ctx, acct.ID, acct.Role)
    if err != nil {
        return nil, err
    }

    s.audit(ctx, audit.Event{
        ActorID:    acct.ID,
        Action:     audit.ActionOAuthLogin,
        Resource:   "account/" + acct.ID,
        Purpose:    purposeAuth,
        LegalBasis: legalBasisContract,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: now,
        Metadata:   map[string]string{"provider": in.Provider},
    })

    return s.session(ctx, acct, pair)
}

// linkOrCreate attaches the OAuth identity to an existing account found
// by email index, or creates a fresh pre-verified account.
func (s *Service) linkOrCreate(ctx context.Context, in OAuthInput, email string, caller CallerContext) (*model.Account, error) {
    emailIndex := s.indexer.Index(email)
    now := s.now()

    acct, err := s.accounts.FindByEmailIndex(ctx, emailIndex)
    if err == nil {
        patch := model.AccountPatch{OAuthProvider: &in.Provider, OAuthExternalID: &in.ExternalID}
        if err := s.accounts.Update(ctx, acct.ID, patch); err != nil {
            return nil, err
        }
        acct.OAuthProvider = &in.Provider
        acct.OAuthExternalID = &in.ExternalID
        s.audit(ctx, audit.Event{
            ActorID:    acct.ID,
            Action:     audit.ActionOAuthLink,
            Resource:   "account/" + acct.ID,
            Purpose:    purposeAuth,
            LegalBasis: legalBasisContract,
            IP:         caller.IP,
            UserAgent:  caller.UserAgent,
            OccurredAt: now,
            Metadata:   map[string]string{"provider": in.Provider},
        })
        return acct, nil
    }
    if !errors.Is(err, ErrAccountNotFound) {
        return nil, err
    }

    // No account at all: trust the provider and create it pre-verified,
    // with no password digest.
    acct = &model.Account{
        ID:              uuid.NewString(),
        Email:           email,
        EmailIndex:      emailIndex,
        Role:            model.RoleCustomer,
        Status:          model.StatusActive,
        OAuthProvider:   &in.Provider,
        OAuthExternalID: &in.ExternalID,
        CreatedAt:       now,
        UpdatedAt:       now,
    }
    if err := s.accounts.Create(ctx, acct); err != nil {
        if errors.Is(err, ErrDuplicateEmail) {
            return nil, ErrConflict
        }
        return nil, err
    }
    return acct, nil
}

// ----- helpers -----

// session assembles the sanitized result, decrypting the phone blob for
// the view when one is stored. A phone that fails to decrypt is a
// tampering signal and fails the whole call; ErrIntegrity and
// ErrKeyManagement are never downgraded to an empty field.
func (s *Service) session(ctx context.Context, acct *model.Account, pair token.Pair) (*Session, error) {
    view := acct.View()
    if len(acct.PhoneBlob) > 0 {
        phone, err := s.decryptPhone(ctx, acct)
        if err != nil {
            log.Printf("auth: phone decrypt failed for %s: %v", acct.ID, err)
            return nil, err
        }
        view.Phone = phone
    }
    return &Session{Account: view, Tokens: pair}, nil
}

func (s *Service) decryptPhone(ctx context.Context, acct *model.Account) (string, error) {
    blob, err := crypto.UnmarshalBlob(acct.PhoneBlob)
    if err != nil {
        return "", err
    }
    plain, err := s.engine.Unprotect(ctx, blob)
    if err != nil {
        return "", err
    }
    return string(plain), nil
}

// updateLastLogin writes last-login metadata as a detached task. Its
// failure is logged but never affects the request's outcome.
func (s *Service) updateLastLogin(accountID string, at time.Time, ip string) {
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        patch := model.AccountPatch{LastLoginAt: &at}
        if ip != "" {
            patch.LastLoginIP = &ip
        }
        if err := s.accounts.Update(ctx, accountID, patch); err != nil {
            log.Printf("auth: last-login update failed for %s: %v", accountID, err)
        }
    }()
}

// audit forwards an event to the recorder. Failures are logged; they do
// not fail the request (the publisher side owns retry and alerting).
func (s *Service) audit(ctx context.Context, ev audit.Event) {
    if err := s.auditor.Record(ctx, ev); err != nil {
        log.Printf("auth: audit record failed (action=%s): %v", ev.Action, err)
    }
}

func (s *Service) securityEvent(actorID string, action audit.Action, caller CallerContext, meta map[string]string) audit.Event {
    return audit.Event{
        ActorID:    actorID,
        Action:     action,
        Resource:   "account/" + actorID,
        Purpose:    purposeSecurity,
        LegalBasis: legalBasisLegitimate,
        IP:         caller.IP,
        UserAgent:  caller.UserAgent,
        OccurredAt: s.now(),
        Metadata:   meta,
    }
}

