package repository

import (
	"context"

	"github.com/samber/oops"

	"auth-platform/backend/internal/audit/domain"
	"auth-platform/backend/internal/db"
)

const auditColumns = `id, user_id, action, resource, ip, metadata, created_at`

// PostgresRepository stores audit logs in Postgres.
type PostgresRepository struct {
	pool db.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns an audit log repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_CREATE_FAILED").With("action", a.Action).Wrap(err)
	}
	return nil
}
