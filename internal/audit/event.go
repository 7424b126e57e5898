// Package audit defines the audit event schema and the transport to the
// audit sink. Every mutating operation of the security core emits an
// event carrying purpose and legal-basis metadata; the sink itself is an
// external collaborator that stores events append-only and hash-chained.
package audit

import (
    "context"
    "time"
)

// Action identifies what happened.
type Action string

const (
    ActionRegister       Action = "account.register"
    ActionLogin          Action = "session.login"
    ActionLoginFailed    Action = "session.login_failed"
    ActionLoginLocked    Action = "session.login_locked"
    ActionLockout        Action = "account.lockout"
    ActionRefresh        Action = "session.refresh"
    ActionReplayDetected Action = "session.replay_detected"
    ActionLogout         Action = "session.logout"
    ActionPasswordChange Action = "account.password_change"
    ActionOAuthLogin     Action = "session.oauth_login"
    ActionOAuthLink      Action = "account.oauth_link"
    ActionStatusChange   Action = "account.status_change"
)

// Event is one audit record. ActorID is the account the event is about;
// for failed lookups it holds the anonymized lookup token rather than
// anything an attacker typed.
type Event struct {
    ActorID    string            `json:"actor_id"`
    Action     Action            `json:"action"`
    Resource   string            `json:"resource"`
    Purpose    string            `json:"purpose"`
    LegalBasis string            `json:"legal_basis"`
    IP         string            `json:"ip,omitempty"`
    UserAgent  string            `json:"user_agent,omitempty"`
    OccurredAt time.Time         `json:"occurred_at"`
    Metadata   map[string]string `json:"metadata,omitempty"`
}

// Recorder is the write contract of the audit sink. Implementations
// must not block the request beyond a bounded retry; a failed write is
// the recorder's problem to retry or alert on, never a reason to roll
// back the operation that emitted the event.
type Recorder interface {
    Record(ctx context.Context, ev Event) error
}
