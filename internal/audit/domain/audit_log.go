package domain

import "time"

// Actions recorded by the session and identity services.
const (
	ActionSessionCreated     = "session_created"
	ActionSessionRefreshed   = "session_refreshed"
	ActionSessionDeactivated = "session_deactivated"
	ActionSessionsBlocked    = "sessions_blocked"
	ActionUserRegistered     = "user_registered"
	ActionUserDeleted        = "user_deleted"
	ActionLoginFailure       = "login_failure"
	ActionSweep              = "sweep"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
