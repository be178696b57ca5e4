// Package domain holds the session record and its status transition table.
package domain

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusBlocked  Status = "BLOCKED"
	StatusRevoked  Status = "REVOKED"
)

// transitions lists the allowed status changes. ACTIVE to ACTIVE is a refresh.
// REVOKED has no successor status; the row is deleted instead.
var transitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusActive:   {},
		StatusInactive: {},
		StatusBlocked:  {},
	},
	StatusInactive: {
		StatusRevoked: {},
	},
	StatusBlocked: {},
	StatusRevoked: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a session in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	_, ok := transitions[s][next]
	return ok
}

// Session is one authenticated login instance. Only token digests are stored, never raw tokens.
type Session struct {
	ID               string
	UserID           string
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Status           Status
	CreatedAt        time.Time
	// LastActivityTime is stamped on creation, refresh and by any status change.
	LastActivityTime time.Time
}

// IsActive reports whether the session may authenticate requests.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// TokenPair is the raw credential pair handed to the client. It exists only in responses.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
