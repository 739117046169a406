package domain

import (
	"errors"
	"time"
)

// Order is a manufacturing work order queued at a work centre.
type Order struct {
	ID           string
	OrderNumber  string
	WorkCentreID string
	Position     int // 1-based display position within the work centre queue
	Status       OrderStatus
	Priority     int
	Quantity     int
	DueDate      *time.Time
	UpdatedAt    time.Time
}

type OrderStatus string

const (
	OrderStatusPlanned    OrderStatus = "planned"
	OrderStatusReleased   OrderStatus = "released"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusOnHold     OrderStatus = "on_hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlanned, OrderStatusReleased, OrderStatusInProgress,
		OrderStatusOnHold, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Active reports whether orders in status s take part in queue positioning.
func (s OrderStatus) Active() bool {
	return s != OrderStatusCompleted && s != OrderStatusCancelled
}

// Active reports whether the order is still queued.
func (o *Order) Active() bool {
	return o.Status.Active()
}

// Validate validates the order for persistence. Returns an error describing the first validation failure.
func (o *Order) Validate() error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if o.OrderNumber == "" {
		return errors.New("order number is required")
	}
	if o.WorkCentreID == "" {
		return errors.New("work centre id is required")
	}
	if o.Status == "" {
		o.Status = OrderStatusPlanned
	}
	if !o.Status.Valid() {
		return errors.New("unknown order status")
	}
	if o.Position < 1 {
		return errors.New("position must be positive")
	}
	return nil
}

// WorkCentre is a machine, line or cell that processes orders in queue order.
type WorkCentre struct {
	ID     string
	Code   string
	Name   string
	Active bool
}

// OrderPosition is the placement of one order in a work centre queue.
type OrderPosition struct {
	OrderID      string
	WorkCentreID string
	Position     int
}
