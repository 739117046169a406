package telemetry

import (
	"context"
	"time"

	lockdomain "planning-board/internal/draglock/domain"
	"planning-board/internal/telemetry/domain"
)

// LockEvents publishes drag lock changes as board events. It implements draglock.Listener and
// never blocks the lock manager.
type LockEvents struct {
	emitter EventEmitter
}

// NewLockEvents returns a lock listener that emits through emitter. A nil emitter drops events.
func NewLockEvents(emitter EventEmitter) *LockEvents {
	return &LockEvents{emitter: emitter}
}

type lockedData struct {
	OrderNumber string    `json:"orderNumber,omitempty"`
	HolderName  string    `json:"holderName,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Renewed     bool      `json:"renewed"`
}

type unlockedData struct {
	Reason    string  `json:"reason"`
	Completed bool    `json:"completed"`
	HeldFor   float64 `json:"heldForSeconds"`
}

// LockAcquired emits an order.locked event.
func (l *LockEvents) LockAcquired(lock lockdomain.DragLock, renewed bool) {
	if l == nil || l.emitter == nil {
		return
	}
	EmitAsync(l.emitter, context.Background(), NewEvent(domain.EventOrderLocked, lock.HolderUserID, lock.OrderID, "", lockedData{
		OrderNumber: lock.OrderNumber,
		HolderName:  lock.HolderDisplayName,
		ExpiresAt:   lock.ExpiresAt,
		Renewed:     renewed,
	}))
}

// LockReleased emits an order.unlocked event.
func (l *LockEvents) LockReleased(r lockdomain.Release) {
	if l == nil || l.emitter == nil {
		return
	}
	EmitAsync(l.emitter, context.Background(), NewEvent(domain.EventOrderUnlocked, r.Lock.HolderUserID, r.Lock.OrderID, "", unlockedData{
		Reason:    string(r.Reason),
		Completed: r.Completed,
		HeldFor:   time.Since(r.Lock.AcquiredAt).Seconds(),
	}))
}
