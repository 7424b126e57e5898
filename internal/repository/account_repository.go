// Package repository implements the account storage contract on MySQL.
// Lookups by identity fields always go through the deterministic index
// columns; there is no query path that scans plaintext.
package repository

import (
    "context"
    "database/sql"
    "errors"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"

    "github.com/mkarimova/pet-care-platform/internal/auth"
    "github.com/mkarimova/pet-care-platform/internal/model"
)

// AccountRepo persists accounts in the `accounts` table.
type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = `id, email, email_index, password_hash, phone_blob, phone_index,
role, status, failed_logins, locked_until, last_login_at, last_login_ip,
oauth_provider, oauth_external_id, created_at, updated_at`

// Create inserts a new account. A unique violation on the email index
// maps to auth.ErrDuplicateEmail.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
    _, err := r.DB.ExecContext(ctx,
        `INSERT INTO accounts (id, email, email_index, password_hash, phone_blob, phone_index,
            role, status, failed_logins, oauth_provider, oauth_external_id, created_at, updated_at)
         VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
        a.ID, a.Email, a.EmailIndex, a.PasswordHash, a.PhoneBlob, a.PhoneIndex,
        string(a.Role), string(a.Status), a.FailedLogins, a.OAuthProvider, a.OAuthExternalID,
        a.CreatedAt, a.UpdatedAt)
    if err != nil {
        if duplicateKey(err) {
            return auth.ErrDuplicateEmail
        }
        return err
    }
    return nil
}

// duplicateKey reports whether err is MySQL error 1062, a duplicate
// entry on a unique index. Matching on the driver error number instead
// of the message keeps the check stable across server locales.
func duplicateKey(err error) bool {
    var mysqlErr *mysql.MySQLError
    return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// FindByEmailIndex fetches an account by its deterministic email index.
func (r *AccountRepo) FindByEmailIndex(ctx context.Context, emailIndex string) (*model.Account, error) {
    return r.findOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email_index=? LIMIT 1", emailIndex)
}

// FindByID fetches an account by id.
func (r *AccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
    return r.findOne(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1", id)
}

// FindByOAuth fetches an account by external identity.
func (r *AccountRepo) FindByOAuth(ctx context.Context, provider, externalID string) (*model.Account, error) {
    return r.findOne(ctx,
        "SELECT "+accountColumns+" FROM accounts WHERE oauth_provider=? AND oauth_external_id=? LIMIT 1",
        provider, externalID)
}

func (r *AccountRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.Account, error) {
    var (
        a           model.Account
        role        string
        status      string
        lockedUntil sql.NullTime
        lastLoginAt sql.NullTime
    )
    err := r.DB.QueryRowContext(ctx, query, args...).Scan(
        &a.ID, &a.Email, &a.EmailIndex, &a.PasswordHash, &a.PhoneBlob, &a.PhoneIndex,
        &role, &status, &a.FailedLogins, &lockedUntil, &lastLoginAt, &a.LastLoginIP,
        &a.OAuthProvider, &a.OAuthExternalID, &a.CreatedAt, &a.UpdatedAt)
    if err != nil {
        if err == sql.ErrNoRows {
            return nil, auth.ErrAccountNotFound
        }
        return nil, err
    }
    a.Role = model.Role(role)
    a.Status = model.Status(status)
    if lockedUntil.Valid {
        t := lockedUntil.Time
        a.LockedUntil = &t
    }
    if lastLoginAt.Valid {
        t := lastLoginAt.Time
        a.LastLoginAt = &t
    }
    return &a, nil
}

// Update applies a partial patch. Only the fields present in the patch
// make it into the SET clause; updated_at always moves.
func (r *AccountRepo) Update(ctx context.Context, id string, patch model.AccountPatch) error {
    sets := make([]string, 0, 8)
    args := make([]interface{}, 0, 8)

    if patch.PasswordHash != nil {
        sets = append(sets, "password_hash=?")
        args = append(args, *patch.PasswordHash)
    }
    if patch.FailedLogins != nil {
        sets = append(sets, "failed_logins=?")
        args = append(args, *patch.FailedLogins)
    }
    if patch.LockedUntil != nil {
        sets = append(sets, "locked_until=?")
        args = append(args, *patch.LockedUntil)
    }
    if patch.ClearLockout {
        sets = append(sets, "locked_until=NULL")
    }
    if patch.Status != nil {
        sets = append(sets, "status=?")
        args = append(args, string(*patch.Status))
    }
    if patch.LastLoginAt != nil {
        sets = append(sets, "last_login_at=?")
        args = append(args, *patch.LastLoginAt)
    }
    if patch.LastLoginIP != nil {
        sets = append(sets, "last_login_ip=?")
        args = append(args, *patch.LastLoginIP)
    }
    if patch.OAuthProvider != nil {
        sets = append(sets, "oauth_provider=?")
        args = append(args, *patch.OAuthProvider)
    }
    if patch.OAuthExternalID != nil {
        sets = append(sets, "oauth_external_id=?")
        args = append(args, *patch.OAuthExternalID)
    }
    if len(sets) == 0 {
        return nil
    }
    sets = append(sets, "updated_at=?")
    args = append(args, time.Now().UTC())
    args = append(args, id)

    _, err := r.DB.ExecContext(ctx,
        "UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
    return err
}
