package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/session/domain"
)

// MemoryRepository is an in-process session store for development and tests. A single mutex
// serialises writers, so Rotate has the same compare-and-set semantics as the Postgres UPDATE.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperr.New(apperr.ErrAlreadyExists, "session_id", s.ID)
	}
	for _, existing := range r.sessions {
		if existing.AccessTokenHash == s.AccessTokenHash || existing.RefreshTokenHash == s.RefreshTokenHash {
			return apperr.New(apperr.ErrAlreadyExists, "session_id", s.ID)
		}
	}
	c := *s
	r.sessions[s.ID] = &c
	return nil
}

func (r *MemoryRepository) GetByAccessHash(_ context.Context, accessHash string) (*domain.Session, error) {
	return r.findOne(func(s *domain.Session) bool { return s.AccessTokenHash == accessHash }), nil
}

func (r *MemoryRepository) GetByRefreshHash(_ context.Context, refreshHash string) (*domain.Session, error) {
	return r.findOne(func(s *domain.Session) bool { return s.RefreshTokenHash == refreshHash }), nil
}

func (r *MemoryRepository) findOne(match func(*domain.Session) bool) *domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if match(s) {
			c := *s
			return &c
		}
	}
	return nil
}

func (r *MemoryRepository) CountByUserAndStatus(_ context.Context, userID string, status domain.Status) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == status {
			n++
		}
	}
	return n, nil
}

// Snapshot returns copies of the user's sessions, newest first.
func (r *MemoryRepository) Snapshot(userID string) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) Rotate(_ context.Context, id, oldRefreshHash string, next Rotation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RefreshTokenHash != oldRefreshHash || s.Status != domain.StatusActive {
		return false, nil
	}
	s.AccessTokenHash = next.AccessTokenHash
	s.RefreshTokenHash = next.RefreshTokenHash
	s.AccessExpiresAt = next.AccessExpiresAt
	s.RefreshExpiresAt = next.RefreshExpiresAt
	s.LastActivityTime = next.At
	return true, nil
}

func (r *MemoryRepository) DeactivateByAccessHash(_ context.Context, accessHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.AccessTokenHash == accessHash && s.Status == domain.StatusActive {
			s.Status = domain.StatusInactive
			s.LastActivityTime = at
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) TouchActive(_ context.Context, userID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == domain.StatusActive {
			if latest == nil || s.LastActivityTime.After(latest.LastActivityTime) {
				latest = s
			}
		}
	}
	if latest == nil {
		return false, nil
	}
	latest.LastActivityTime = at
	return true, nil
}

func (r *MemoryRepository) TouchByAccessHash(_ context.Context, accessHash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.AccessTokenHash == accessHash && s.Status == domain.StatusActive {
			s.LastActivityTime = at
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) BlockActiveByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Status == domain.StatusActive {
			s.Status = domain.StatusBlocked
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) TransitionStale(_ context.Context, from, to domain.Status, cutoff, at time.Time) (int, error) {
	if err := checkTransition(from, to); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.Status == from && !s.LastActivityTime.After(cutoff) {
			s.Status = to
			s.LastActivityTime = at
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteStale(_ context.Context, status domain.Status, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.Status == status && !s.LastActivityTime.After(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteByUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
