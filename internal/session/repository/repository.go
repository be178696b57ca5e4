package repository

import (
	"context"
	"time"

	"github.com/samber/oops"

	"auth-platform/backend/internal/session/domain"
)

// Rotation is the replacement credential state written by a successful refresh.
type Rotation struct {
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	At               time.Time
}

// Repository defines persistence for sessions. Lookups return (nil, nil) when no row matches.
// Every mutation applies to a single row atomically or, for the sweeps, as one statement.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByAccessHash(ctx context.Context, accessHash string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, refreshHash string) (*domain.Session, error)
	CountByUserAndStatus(ctx context.Context, userID string, status domain.Status) (int, error)

	// Rotate replaces both digests of session id only while its refresh digest still equals
	// oldRefreshHash and it is ACTIVE. Returns false when another writer got there first.
	Rotate(ctx context.Context, id, oldRefreshHash string, next Rotation) (bool, error)
	// DeactivateByAccessHash moves the ACTIVE session with accessHash to INACTIVE. Returns false if none matched.
	DeactivateByAccessHash(ctx context.Context, accessHash string, at time.Time) (bool, error)
	// TouchActive stamps last activity on one ACTIVE session of the user. Returns false if the user has none.
	TouchActive(ctx context.Context, userID string, at time.Time) (bool, error)
	// TouchByAccessHash stamps last activity on the ACTIVE session with accessHash. Returns false if none matched.
	TouchByAccessHash(ctx context.Context, accessHash string, at time.Time) (bool, error)
	// BlockActiveByUser moves every ACTIVE session of the user to BLOCKED and returns how many changed.
	BlockActiveByUser(ctx context.Context, userID string) (int, error)

	// TransitionStale moves every session in from whose last activity is at or before cutoff to to,
	// stamping last activity with at. A move the lifecycle does not allow fails without touching any row.
	TransitionStale(ctx context.Context, from, to domain.Status, cutoff, at time.Time) (int, error)
	// DeleteStale removes sessions in status whose last activity is at or before cutoff.
	DeleteStale(ctx context.Context, status domain.Status, cutoff time.Time) (int, error)
	// DeleteByUser removes every session of the user.
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

func checkTransition(from, to domain.Status) error {
	if !from.CanTransition(to) {
		return oops.Code("SESSION_TRANSITION_INVALID").With("from", from).With("to", to).
			Errorf("session cannot move from %s to %s", from, to)
	}
	return nil
}
