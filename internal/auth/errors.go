package auth

import (
    "errors"
    "fmt"
    "time"
)

// The error taxonomy exposed by the session orchestrator. Wherever
// enumeration risk exists the values are deliberately unified: an
// unknown email, a wrong password and an invalid token all surface as
// ErrInvalidCredentials with the same message.
var (
    ErrInvalidCredentials  = errors.New("invalid credentials")
    ErrAccountLocked       = errors.New("account locked")
    ErrAccountNotActive    = errors.New("account not active")
    ErrTokenReplayDetected = errors.New("token reuse detected: all sessions invalidated")
    ErrConflict            = errors.New("account already exists")
    ErrValidation          = errors.New("invalid input")
)

// Sentinels returned by AccountStore implementations.
var (
    ErrAccountNotFound = errors.New("account not found")
    ErrDuplicateEmail  = errors.New("duplicate email index")
)

// LockedError carries the lockout expiry so callers can report the
// remaining wait. It matches ErrAccountLocked under errors.Is.
type LockedError struct {
    Until time.Time
}

func (e *LockedError) Error() string {
    return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
