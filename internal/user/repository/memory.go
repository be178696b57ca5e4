package repository

import (
	"context"
	"strings"
	"sync"

	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/user/domain"
)

// SessionPurger removes every session owned by a user. The in-memory session store implements it.
type SessionPurger interface {
	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// MemoryRepository is an in-process user store for development and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	sessions SessionPurger
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty store. sessions may be nil when no session store is attached.
func NewMemoryRepository(sessions SessionPurger) *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User), sessions: sessions}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.users[id]), nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username }), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return clone(u)
		}
	}
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.ID == u.ID || existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return apperr.New(apperr.ErrAlreadyExists, "username", u.Username, "email", u.Email)
		}
	}
	r.users[u.ID] = clone(u)
	return nil
}

func (r *MemoryRepository) SetBlocked(_ context.Context, id string, blocked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "user_id", id)
	}
	u.IsBlocked = blocked
	return nil
}

func (r *MemoryRepository) ListAdmins(_ context.Context) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.User
	for _, u := range r.users {
		if u.IsAdmin() {
			out = append(out, clone(u))
		}
	}
	return out, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return 0, apperr.New(apperr.ErrNotFound, "user_id", id)
	}
	removed := 0
	if r.sessions != nil {
		n, err := r.sessions.DeleteByUser(ctx, id)
		if err != nil {
			return 0, err
		}
		removed = n
	}
	delete(r.users, id)
	return removed, nil
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
