// Package draglock implements the process-local drag locks that stop two schedulers from
// moving the same order at once: an in-memory Store, the Manager that owns the conflict
// policy, and the Sweeper that expires abandoned locks.
package draglock

import (
	"sort"
	"sync"

	"planning-board/internal/draglock/domain"
)

// Store is the registry of drag locks keyed by order id. Implementations must be safe for
// concurrent use; they hold data only and make no policy decisions.
type Store interface {
	// Get returns the lock for orderID, live or not.
	Get(orderID string) (domain.DragLock, bool)
	// Put inserts or replaces the lock for l.OrderID. Replacing keeps the original insertion position.
	Put(l domain.DragLock)
	// Delete removes the lock for orderID and returns it.
	Delete(orderID string) (domain.DragLock, bool)
	// DeleteFunc removes every lock for which match returns true and returns them in insertion order.
	DeleteFunc(match func(domain.DragLock) bool) []domain.DragLock
	// List returns all locks in insertion order.
	List() []domain.DragLock
	// Len returns the number of stored locks.
	Len() int
}

type entry struct {
	lock domain.DragLock
	seq  uint64
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	seq     uint64
}

// NewMemoryStore returns an empty in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

// Get returns the lock for orderID.
func (s *MemoryStore) Get(orderID string) (domain.DragLock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[orderID]
	return e.lock, ok
}

// Put inserts or replaces the lock for l.OrderID.
func (s *MemoryStore) Put(l domain.DragLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[l.OrderID]; ok {
		s.entries[l.OrderID] = entry{lock: l, seq: e.seq}
		return
	}
	s.seq++
	s.entries[l.OrderID] = entry{lock: l, seq: s.seq}
}

// Delete removes the lock for orderID.
func (s *MemoryStore) Delete(orderID string) (domain.DragLock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[orderID]
	if ok {
		delete(s.entries, orderID)
	}
	return e.lock, ok
}

// DeleteFunc removes every matching lock.
func (s *MemoryStore) DeleteFunc(match func(domain.DragLock) bool) []domain.DragLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []entry
	for id, e := range s.entries {
		if match(e.lock) {
			removed = append(removed, e)
			delete(s.entries, id)
		}
	}
	return sortedLocks(removed)
}

// List returns all locks in insertion order.
func (s *MemoryStore) List() []domain.DragLock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	return sortedLocks(all)
}

// Len returns the number of stored locks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortedLocks(entries []entry) []domain.DragLock {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]domain.DragLock, len(entries))
	for i := range entries {
		out[i] = entries[i].lock
	}
	return out
}
