package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"auth-platform/backend/internal/db"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash, access_expires_at, refresh_expires_at, status, created_at, last_activity_time`

// PostgresRepository stores sessions in Postgres.
type PostgresRepository struct {
	pool db.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts s. The caller assigns the ID.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, s.AccessExpiresAt, s.RefreshExpiresAt,
		string(s.Status), s.CreatedAt, s.LastActivityTime,
	)
	if db.IsUniqueViolation(err) {
		return apperr.New(apperr.ErrAlreadyExists, "session_id", s.ID)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").With("session_id", s.ID).With("user_id", s.UserID).Wrap(err)
	}
	return nil
}

// GetByAccessHash returns the session whose access digest matches, or nil.
func (r *PostgresRepository) GetByAccessHash(ctx context.Context, accessHash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE access_token_hash = $1`, accessHash)
}

// GetByRefreshHash returns the session whose refresh digest matches, or nil.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, refreshHash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, refreshHash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, hash string) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_QUERY_FAILED").Wrap(err)
	}
	return s, nil
}

// CountByUserAndStatus counts the user's sessions in status.
func (r *PostgresRepository) CountByUserAndStatus(ctx context.Context, userID string, status domain.Status) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM sessions WHERE user_id = $1 AND status = $2`, userID, string(status)).Scan(&n)
	if err != nil {
		return 0, oops.Code("SESSION_QUERY_FAILED").With("user_id", userID).With("status", status).Wrap(err)
	}
	return n, nil
}

// Rotate is a compare-and-set on (id, refresh digest, ACTIVE).
func (r *PostgresRepository) Rotate(ctx context.Context, id, oldRefreshHash string, next Rotation) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET access_token_hash = $3, refresh_token_hash = $4, access_expires_at = $5, refresh_expires_at = $6,
		     last_activity_time = $7
		 WHERE id = $1 AND refresh_token_hash = $2 AND status = 'ACTIVE'`,
		id, oldRefreshHash, next.AccessTokenHash, next.RefreshTokenHash, next.AccessExpiresAt, next.RefreshExpiresAt, next.At,
	)
	if err != nil {
		return false, oops.Code("SESSION_ROTATE_FAILED").With("session_id", id).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeactivateByAccessHash moves the matching ACTIVE session to INACTIVE.
func (r *PostgresRepository) DeactivateByAccessHash(ctx context.Context, accessHash string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'INACTIVE', last_activity_time = $2
		 WHERE access_token_hash = $1 AND status = 'ACTIVE'`,
		accessHash, at,
	)
	if err != nil {
		return false, oops.Code("SESSION_UPDATE_FAILED").Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchActive stamps the most recently used ACTIVE session of the user.
func (r *PostgresRepository) TouchActive(ctx context.Context, userID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_activity_time = $2
		 WHERE id = (
		     SELECT id FROM sessions WHERE user_id = $1 AND status = 'ACTIVE'
		     ORDER BY last_activity_time DESC LIMIT 1
		 ) AND status = 'ACTIVE'`,
		userID, at,
	)
	if err != nil {
		return false, oops.Code("SESSION_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchByAccessHash stamps the ACTIVE session holding accessHash.
func (r *PostgresRepository) TouchByAccessHash(ctx context.Context, accessHash string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_activity_time = $2 WHERE access_token_hash = $1 AND status = 'ACTIVE'`,
		accessHash, at,
	)
	if err != nil {
		return false, oops.Code("SESSION_UPDATE_FAILED").Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// BlockActiveByUser moves the user's ACTIVE sessions to BLOCKED. Last activity is left as is.
func (r *PostgresRepository) BlockActiveByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'BLOCKED' WHERE user_id = $1 AND status = 'ACTIVE'`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_UPDATE_FAILED").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// TransitionStale applies one sweep step as a single UPDATE served by the (status, last_activity_time) index.
func (r *PostgresRepository) TransitionStale(ctx context.Context, from, to domain.Status, cutoff, at time.Time) (int, error) {
	if err := checkTransition(from, to); err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, last_activity_time = $4
		 WHERE status = $1 AND last_activity_time <= $3`,
		string(from), string(to), cutoff, at,
	)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").With("from", from).With("to", to).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteStale removes sessions in status idle since cutoff.
func (r *PostgresRepository) DeleteStale(ctx context.Context, status domain.Status, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE status = $1 AND last_activity_time <= $2`, string(status), cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").With("status", status).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByUser removes every session of the user.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var status string
	err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash, &s.AccessExpiresAt,
		&s.RefreshExpiresAt, &status, &s.CreatedAt, &s.LastActivityTime)
	if err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	if !s.Status.Valid() {
		return nil, oops.Code("SESSION_STATUS_UNKNOWN").With("session_id", s.ID).Errorf("unknown session status %q", status)
	}
	return &s, nil
}
