package domain

import "time"

// DragLock is a short-lived exclusive claim on an order while a user drags it across the board.
type DragLock struct {
	OrderID           string
	OrderNumber       string // display value from drag-start; may be empty
	HolderUserID      string
	HolderDisplayName string
	AcquiredAt        time.Time
	ExpiresAt         time.Time
}

// Expired reports whether the lock is no longer live at now. A lock is live strictly before ExpiresAt.
func (l DragLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// ReleaseReason tells room members why a lock went away.
type ReleaseReason string

const (
	ReasonReleased   ReleaseReason = "released"
	ReasonTimeout    ReleaseReason = "timeout"
	ReasonDisconnect ReleaseReason = "disconnect"
)

// Release describes a lock that was removed from the store.
type Release struct {
	Lock      DragLock
	Reason    ReleaseReason
	Completed bool // true only for explicit releases that finished the move
}
