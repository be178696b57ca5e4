package repository

import (
	"context"
	"sync"

	"auth-platform/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used when no database is configured and in tests.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
	// CreateErr, when set, is returned by every Create.
	CreateErr error
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	c := *a
	r.entries = append(r.entries, &c)
	return nil
}

// All returns every entry in insertion order.
func (r *MemoryRepository) All() []*domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditLog, len(r.entries))
	for i, e := range r.entries {
		c := *e
		out[i] = &c
	}
	return out
}
