package model

import "time"

// Role is the closed set of roles an account can hold. Roles are
// snapshotted into access tokens at issuance, so renaming a value is a
// breaking change for outstanding sessions.
type Role string

const (
    RoleCustomer Role = "CUSTOMER" // pet owners booking stays and daycare
    RoleStaff    Role = "STAFF"    // facility staff handling bookings and medical records
    RoleAdmin    Role = "ADMIN"    // platform administration
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
    switch r {
    case RoleCustomer, RoleStaff, RoleAdmin:
        return true
    }
    return false
}

// Status is the lifecycle state of an account. Accounts are never hard
// deleted; StatusDeleted is a terminal soft state.
type Status string

const (
    StatusPendingVerification Status = "PENDING_VERIFICATION"
    StatusActive              Status = "ACTIVE"
    StatusSuspended           Status = "SUSPENDED"
    StatusDeleted             Status = "DELETED"
)

// Account represents an identity record as stored in the `accounts`
// table. The email is kept in plaintext for display, but lookups always
// go through EmailIndex, the deterministic keyed index of the normalized
// address. The phone number, when present, is stored only as an
// envelope-encrypted blob plus its own index; there is no plaintext
// phone column.
//
// Fields:
//  ID              – opaque UUID primary key.
//  Email           – normalized (lowercased, trimmed) email address.
//  EmailIndex      – deterministic index of Email; unique.
//  PasswordHash    – bcrypt digest; nil for OAuth-only accounts.
//  PhoneBlob       – serialized encrypted blob of the phone number (nullable).
//  PhoneIndex      – deterministic index of the phone number (nullable).
//  Role            – one of the Role constants.
//  Status          – lifecycle state.
//  FailedLogins    – consecutive failed login attempts since last success.
//  LockedUntil     – lockout expiry; nil when the account is not locked.
//  LastLoginAt     – timestamp of the last successful login (nullable).
//  LastLoginIP     – source IP of the last successful login (nullable).
//  OAuthProvider   – external identity provider name (nullable).
//  OAuthExternalID – subject identifier at the provider (nullable).
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Account struct {
    ID              string     // accounts.id
    Email           string     // accounts.email
    EmailIndex      string     // accounts.email_index
    PasswordHash    *string    // accounts.password_hash (nullable)
    PhoneBlob       []byte     // accounts.phone_blob (nullable)
    PhoneIndex      *string    // accounts.phone_index (nullable)
    Role            Role       // accounts.role
    Status          Status     // accounts.status
    FailedLogins    int        // accounts.failed_logins
    LockedUntil     *time.Time // accounts.locked_until (nullable)
    LastLoginAt     *time.Time // accounts.last_login_at (nullable)
    LastLoginIP     *string    // accounts.last_login_ip (nullable)
    OAuthProvider   *string    // accounts.oauth_provider (nullable)
    OAuthExternalID *string    // accounts.oauth_external_id (nullable)
    CreatedAt       time.Time  // accounts.created_at
    UpdatedAt       time.Time  // accounts.updated_at
}

// Locked reports whether the account is locked out at the given instant.
func (a *Account) Locked(now time.Time) bool {
    return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// AccountView is the sanitized projection of an Account that may leave
// the service. It carries no password hash, no indexes and no encrypted
// material. Phone is filled in by the caller only after decryption.
type AccountView struct {
    ID          string     `json:"id"`
    Email       string     `json:"email"`
    Phone       string     `json:"phone,omitempty"`
    Role        Role       `json:"role"`
    Status      Status     `json:"status"`
    LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// View returns the sanitized projection of the account.
func (a *Account) View() AccountView {
    return AccountView{
        ID:          a.ID,
        Email:       a.Email,
        Role:        a.Role,
        Status:      a.Status,
        LastLoginAt: a.LastLoginAt,
    }
}

// AccountPatch describes a partial update of an account record. Only
// non-nil fields are written. ClearLockout resets the failed-login
// counter and nulls the lockout expiry in the same statement.
type AccountPatch struct {
    PasswordHash    *string
    FailedLogins    *int
    LockedUntil     *time.Time
    ClearLockout    bool
    Status          *Status
    LastLoginAt     *time.Time
    LastLoginIP     *string
    OAuthProvider   *string
    OAuthExternalID *string
}
