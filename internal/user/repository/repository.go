package repository

import (
	"context"

	"auth-platform/backend/internal/user/domain"
)

// Repository defines persistence for users. Lookups return (nil, nil) when the user does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create fails with apperr.ErrAlreadyExists when the username or email is taken.
	Create(ctx context.Context, u *domain.User) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	ListAdmins(ctx context.Context) ([]*domain.User, error)
	// Delete removes the user and every session it owns in one unit of work.
	// Returns the number of sessions removed; apperr.ErrNotFound if the user does not exist.
	Delete(ctx context.Context, id string) (int, error)
}
