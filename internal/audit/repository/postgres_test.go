package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-platform/backend/internal/audit/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresRepository_Create(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := &domain.AuditLog{ID: "a1", UserID: "u1", Action: domain.ActionSessionCreated,
		Resource: "session", IP: "10.0.0.1", Metadata: "session_id=s1", CreatedAt: at}

	t.Run("ok", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs("a1", "u1", domain.ActionSessionCreated, "session", "10.0.0.1", "session_id=s1", at).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPostgresRepository(mock).Create(context.Background(), entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO audit_logs`).
			WithArgs("a1", "u1", domain.ActionSessionCreated, "session", "10.0.0.1", "session_id=s1", at).
			WillReturnError(errors.New("connection refused"))

		err := NewPostgresRepository(mock).Create(context.Background(), entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMemoryRepository_CreateCopiesAndFails(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	entry := &domain.AuditLog{ID: "1", UserID: "u1", Action: domain.ActionSessionCreated}
	require.NoError(t, r.Create(ctx, entry))
	entry.Action = "changed"

	all := r.All()
	require.Len(t, all, 1)
	assert.Equal(t, domain.ActionSessionCreated, all[0].Action)

	r.CreateErr = errors.New("disk full")
	require.Error(t, r.Create(ctx, &domain.AuditLog{ID: "2"}))
	assert.Len(t, r.All(), 1)
}
