package draglock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"planning-board/internal/draglock/domain"
)

// DefaultTTL is how long a lock stays live without renewal.
const DefaultTTL = 30 * time.Second

var (
	// ErrNotHeld is returned by Renew when the caller does not hold a live lock on the order.
	ErrNotHeld = errors.New("drag lock not held")
	// ErrInvalidRequest is returned when the order id or user id is empty.
	ErrInvalidRequest = errors.New("order id and user id are required")
)

// ConflictError is returned by Acquire when another user holds a live lock on the order.
type ConflictError struct {
	OrderID string
	Holder  domain.DragLock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s is being moved by %s", e.OrderID, e.Holder.HolderDisplayName)
}

// AsConflict unwraps err into a *ConflictError.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Listener observes lock state changes. Calls are made while the manager's mutex is held, so
// notifications arrive in the same order as the mutations; implementations must not call back
// into the Manager and must not block.
type Listener interface {
	LockAcquired(l domain.DragLock, renewed bool)
	LockReleased(r domain.Release)
}

// Result is the outcome of a successful Acquire.
type Result struct {
	Lock    domain.DragLock
	Renewed bool // true when the caller already held the lock and its expiry was extended
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowF = now }
}

// WithListener registers l for lock notifications.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listener = l }
}

// Manager owns the drag lock policy: one live holder per order, same-user re-acquire extends,
// foreign release is a no-op, and expired locks are taken over or swept.
type Manager struct {
	mu       sync.Mutex
	store    Store
	ttl      time.Duration
	nowF     func() time.Time
	listener Listener
	metrics  *metrics
}

// NewManager returns a Manager backed by store. A non-positive ttl uses DefaultTTL.
func NewManager(store Store, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		store: store,
		ttl:   ttl,
		nowF:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = newMetrics(store)
	return m
}

// SetListener replaces the lock listener.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// TTL returns the lock time-to-live.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire grants userID the lock on orderID. If the same user already holds it, the expiry is
// extended and Renewed is set. If another user holds a live lock, a *ConflictError naming the
// holder is returned. An expired lock held by anyone is released with reason timeout and replaced.
func (m *Manager) Acquire(orderID, userID, displayName, orderNumber string) (Result, error) {
	if orderID == "" || userID == "" {
		return Result{}, ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowF()
	if cur, ok := m.store.Get(orderID); ok {
		switch {
		case cur.Expired(now):
			m.store.Delete(orderID)
			m.notifyReleased(domain.Release{Lock: cur, Reason: domain.ReasonTimeout})
		case cur.HolderUserID != userID:
			m.metrics.conflict()
			return Result{}, &ConflictError{OrderID: orderID, Holder: cur}
		default:
			cur.ExpiresAt = now.Add(m.ttl)
			if displayName != "" {
				cur.HolderDisplayName = displayName
			}
			if orderNumber != "" {
				cur.OrderNumber = orderNumber
			}
			m.store.Put(cur)
			m.notifyAcquired(cur, true)
			return Result{Lock: cur, Renewed: true}, nil
		}
	}

	l := domain.DragLock{
		OrderID:           orderID,
		OrderNumber:       orderNumber,
		HolderUserID:      userID,
		HolderDisplayName: displayName,
		AcquiredAt:        now,
		ExpiresAt:         now.Add(m.ttl),
	}
	m.store.Put(l)
	m.notifyAcquired(l, false)
	return Result{Lock: l}, nil
}

// Renew extends a live lock held by userID. Returns ErrNotHeld if there is no live lock or
// someone else holds it.
func (m *Manager) Renew(orderID, userID string) (domain.DragLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.store.Get(orderID)
	now := m.nowF()
	if !ok || cur.Expired(now) || cur.HolderUserID != userID {
		return domain.DragLock{}, ErrNotHeld
	}
	cur.ExpiresAt = now.Add(m.ttl)
	m.store.Put(cur)
	m.notifyAcquired(cur, true)
	return cur, nil
}

// Release removes the live lock on orderID if userID holds it and reports whether a lock was
// removed. Releasing a lock held by someone else, or no lock at all, changes nothing. A lock whose
// TTL has passed is no longer the caller's: it is removed with reason timeout and false is returned.
func (m *Manager) Release(orderID, userID string, completed bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.store.Get(orderID)
	if !ok {
		return false
	}
	if cur.Expired(m.nowF()) {
		m.store.Delete(orderID)
		m.notifyReleased(domain.Release{Lock: cur, Reason: domain.ReasonTimeout})
		return false
	}
	if cur.HolderUserID != userID {
		return false
	}
	m.store.Delete(orderID)
	m.notifyReleased(domain.Release{Lock: cur, Reason: domain.ReasonReleased, Completed: completed})
	return true
}

// IsLocked returns the live lock on orderID, or nil if the order is free.
func (m *Manager) IsLocked(orderID string) *domain.DragLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.store.Get(orderID)
	if !ok || cur.Expired(m.nowF()) {
		return nil
	}
	return &cur
}

// Active returns all live locks in acquisition order.
func (m *Manager) Active() []domain.DragLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowF()
	all := m.store.List()
	out := all[:0]
	for _, l := range all {
		if !l.Expired(now) {
			out = append(out, l)
		}
	}
	return out
}

// HeldBy returns the live locks held by userID.
func (m *Manager) HeldBy(userID string) []domain.DragLock {
	var out []domain.DragLock
	for _, l := range m.Active() {
		if l.HolderUserID == userID {
			out = append(out, l)
		}
	}
	return out
}

// ExpireSweep removes every expired lock, notifying the listener with reason timeout, and
// returns the removed locks.
func (m *Manager) ExpireSweep() []domain.DragLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowF()
	removed := m.store.DeleteFunc(func(l domain.DragLock) bool { return l.Expired(now) })
	for _, l := range removed {
		m.notifyReleased(domain.Release{Lock: l, Reason: domain.ReasonTimeout})
	}
	return removed
}

// ReleaseAllForUser removes every lock held by userID, notifying the listener with reason
// disconnect, and returns the removed locks.
func (m *Manager) ReleaseAllForUser(userID string) []domain.DragLock {
	return m.ReleaseAllForUserIf(userID, nil)
}

// ReleaseAllForUserIf is ReleaseAllForUser gated by cond, which is evaluated under the manager's
// mutex: an Acquire either completes before cond runs or starts after the release. A nil cond
// always releases. cond must not call back into the Manager.
func (m *Manager) ReleaseAllForUserIf(userID string, cond func() bool) []domain.DragLock {
	if userID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cond != nil && !cond() {
		return nil
	}
	removed := m.store.DeleteFunc(func(l domain.DragLock) bool { return l.HolderUserID == userID })
	for _, l := range removed {
		m.notifyReleased(domain.Release{Lock: l, Reason: domain.ReasonDisconnect})
	}
	return removed
}

// Guard checks that no order in orderIDs carries a live lock of a user other than userID and then
// runs fn with the manager's mutex held, so no lock can be acquired until fn returns. A foreign
// lock fails with its *ConflictError and fn is not run. fn must not call back into the Manager.
func (m *Manager) Guard(userID string, orderIDs []string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowF()
	for _, id := range orderIDs {
		if cur, ok := m.store.Get(id); ok && !cur.Expired(now) && cur.HolderUserID != userID {
			return &ConflictError{OrderID: id, Holder: cur}
		}
	}
	return fn()
}

func (m *Manager) notifyAcquired(l domain.DragLock, renewed bool) {
	m.metrics.acquire(renewed)
	if m.listener != nil {
		m.listener.LockAcquired(l, renewed)
	}
}

func (m *Manager) notifyReleased(r domain.Release) {
	m.metrics.release(r.Reason)
	if m.listener != nil {
		m.listener.LockReleased(r)
	}
}

// Listeners fans notifications out to several listeners in order.
type Listeners []Listener

// LockAcquired notifies every listener.
func (ls Listeners) LockAcquired(l domain.DragLock, renewed bool) {
	for _, x := range ls {
		if x != nil {
			x.LockAcquired(l, renewed)
		}
	}
}

// LockReleased notifies every listener.
func (ls Listeners) LockReleased(r domain.Release) {
	for _, x := range ls {
		if x != nil {
			x.LockReleased(r)
		}
	}
}
