// Package view holds the JSON shapes of board entities shared by the REST and WebSocket APIs.
package view

import (
	"time"

	lockdomain "planning-board/internal/draglock/domain"
	orderdomain "planning-board/internal/order/domain"
)

// User is a person on the board.
type User struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Lock is a live drag lock.
type Lock struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Holder      User      `json:"holder"`
	AcquiredAt  time.Time `json:"acquiredAt"`
	Expiry      time.Time `json:"expiry"`
}

// Order is a work order card.
type Order struct {
	ID           string     `json:"id"`
	OrderNumber  string     `json:"orderNumber"`
	WorkCentreID string     `json:"workCentreId"`
	Position     int        `json:"position"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Quantity     int        `json:"quantity"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// WorkCentre is one board column.
type WorkCentre struct {
	ID     string  `json:"id"`
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Orders []Order `json:"orders"`
}

// Position is one entry of a reconciled queue.
type Position struct {
	OrderID      string `json:"orderId"`
	WorkCentreID string `json:"workCentreId"`
	Position     int    `json:"position"`
}

// FromLock converts a drag lock.
func FromLock(l lockdomain.DragLock) Lock {
	return Lock{
		OrderID:     l.OrderID,
		OrderNumber: l.OrderNumber,
		Holder:      User{UserID: l.HolderUserID, DisplayName: l.HolderDisplayName},
		AcquiredAt:  l.AcquiredAt,
		Expiry:      l.ExpiresAt,
	}
}

// FromLocks converts locks keeping their order. Never returns nil so JSON renders [].
func FromLocks(locks []lockdomain.DragLock) []Lock {
	out := make([]Lock, len(locks))
	for i, l := range locks {
		out[i] = FromLock(l)
	}
	return out
}

// FromOrder converts an order.
func FromOrder(o *orderdomain.Order) Order {
	return Order{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		WorkCentreID: o.WorkCentreID,
		Position:     o.Position,
		Status:       string(o.Status),
		Priority:     o.Priority,
		Quantity:     o.Quantity,
		DueDate:      o.DueDate,
		UpdatedAt:    o.UpdatedAt,
	}
}

// FromOrders converts orders keeping their order.
func FromOrders(orders []*orderdomain.Order) []Order {
	out := make([]Order, len(orders))
	for i, o := range orders {
		out[i] = FromOrder(o)
	}
	return out
}

// FromWorkCentre converts a work centre and its queue.
func FromWorkCentre(wc *orderdomain.WorkCentre, orders []*orderdomain.Order) WorkCentre {
	return WorkCentre{ID: wc.ID, Code: wc.Code, Name: wc.Name, Orders: FromOrders(orders)}
}

// FromPositions converts reconciled positions.
func FromPositions(ps []orderdomain.OrderPosition) []Position {
	out := make([]Position, len(ps))
	for i, p := range ps {
		out[i] = Position{OrderID: p.OrderID, WorkCentreID: p.WorkCentreID, Position: p.Position}
	}
	return out
}
