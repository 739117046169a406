package domain

import "time"

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string // e.g. "order:42" or "work_centre:wc-cut"
	IP        string
	Metadata  string // JSON object; empty when there is nothing to add
	CreatedAt time.Time
}

// Board audit actions.
const (
	ActionLockConflict       = "lock_conflict"
	ActionOrderMoved         = "order_moved"
	ActionOrdersReordered    = "orders_reordered"
	ActionOrderStatusChanged = "order_status_changed"
	ActionLocksReleased      = "locks_released_on_disconnect"
)
