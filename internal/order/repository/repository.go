package repository

import (
	"context"

	"planning-board/internal/order/domain"
)

// Repository defines persistence for orders and work centres.
// Lookups return nil with a nil error when the row does not exist.
type Repository interface {
	FindOrder(ctx context.Context, id string) (*domain.Order, error)
	FindWorkCentre(ctx context.Context, id string) (*domain.WorkCentre, error)
	ListWorkCentres(ctx context.Context) ([]*domain.WorkCentre, error)
	// ListOrdersInWorkCentre returns the active orders of the work centre sorted by (position, id).
	ListOrdersInWorkCentre(ctx context.Context, workCentreID string) ([]*domain.Order, error)
	// UpdateOrderWorkCentreAndPosition writes a single placement. Returns ErrOrderNotFound when no row matched.
	UpdateOrderWorkCentreAndPosition(ctx context.Context, orderID, workCentreID string, position int) error
	// ApplyPositions writes every placement or none of them.
	ApplyPositions(ctx context.Context, positions []domain.OrderPosition) error
	// UpdateOrderStatus sets the order status and returns the updated order, or nil if not found.
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error)
	CreateWorkCentre(ctx context.Context, wc *domain.WorkCentre) error
	CreateOrder(ctx context.Context, o *domain.Order) error
}
