package repository

import (
	"context"
	"sync"

	"planning-board/internal/audit/domain"
)

// DefaultMemoryCapacity is the number of entries MemoryRepository keeps before dropping the oldest.
const DefaultMemoryCapacity = 1000

// MemoryRepository keeps the most recent audit logs in memory. Used when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	entries  []*domain.AuditLog // oldest first
	capacity int
}

// NewMemoryRepository returns a repository holding at most capacity entries (DefaultMemoryCapacity when <= 0).
func NewMemoryRepository(capacity int) *MemoryRepository {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryRepository{capacity: capacity}
}

// GetByID returns the audit log for id, or nil if not found.
func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.entries {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

// ListRecent returns audit logs newest first.
func (r *MemoryRepository) ListRecent(_ context.Context, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditLog
	for i := len(r.entries) - 1 - int(offset); i >= 0 && len(out) < int(limit); i-- {
		c := *r.entries[i]
		out = append(out, &c)
	}
	return out, nil
}

// Create appends the audit log, dropping the oldest entry when full.
func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	if len(r.entries) >= r.capacity {
		r.entries = append(r.entries[:0], r.entries[1:]...)
	}
	r.entries = append(r.entries, &c)
	return nil
}
