package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"auth-platform/backend/internal/db"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/user/domain"
)

const userColumns = `id, username, email, password_hash, role, is_blocked, created_at`

// PostgresRepository stores users in Postgres.
type PostgresRepository struct {
	pool db.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a user repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the user for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername returns the user with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("arg", arg).Wrap(err)
	}
	return u, nil
}

// Create inserts u. The caller assigns the ID.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.IsBlocked, u.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return apperr.New(apperr.ErrAlreadyExists, "username", u.Username, "email", u.Email)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	return nil
}

// SetBlocked sets the is_blocked flag.
func (r *PostgresRepository) SetBlocked(ctx context.Context, id string, blocked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_blocked = $2 WHERE id = $1`, id, blocked)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.ErrNotFound, "user_id", id)
	}
	return nil
}

// ListAdmins returns every user with role ADMIN.
func (r *PostgresRepository) ListAdmins(ctx context.Context) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at`, string(domain.RoleAdmin))
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").Wrap(err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, oops.Code("USER_SCAN_FAILED").Wrap(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").Wrap(err)
	}
	return out, nil
}

// Delete removes the user's sessions and then the user inside one transaction.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (int, error) {
	var removed int
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, id)
		if err != nil {
			return oops.Code("SESSION_DELETE_FAILED").With("user_id", id).Wrap(err)
		}
		removed = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.ErrNotFound, "user_id", id)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.IsBlocked, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}
