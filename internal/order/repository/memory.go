package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"planning-board/internal/order/domain"
)

// MemoryRepository is an in-memory Repository used when no database is configured and in tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	workCentres map[string]*domain.WorkCentre
	nowF        func() time.Time
}

// NewMemoryRepository returns an empty in-memory order repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:      make(map[string]*domain.Order),
		workCentres: make(map[string]*domain.WorkCentre),
		nowF:        time.Now,
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.DueDate != nil {
		d := *o.DueDate
		c.DueDate = &d
	}
	return &c
}

// FindOrder returns a copy of the order, or nil if not found.
func (r *MemoryRepository) FindOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

// FindWorkCentre returns a copy of the work centre, or nil if not found.
func (r *MemoryRepository) FindWorkCentre(_ context.Context, id string) (*domain.WorkCentre, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wc, ok := r.workCentres[id]
	if !ok {
		return nil, nil
	}
	c := *wc
	return &c, nil
}

// ListWorkCentres returns all work centres ordered by code.
func (r *MemoryRepository) ListWorkCentres(_ context.Context) ([]*domain.WorkCentre, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.WorkCentre, 0, len(r.workCentres))
	for _, wc := range r.workCentres {
		c := *wc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListOrdersInWorkCentre returns the active orders of the work centre sorted by (position, id).
func (r *MemoryRepository) ListOrdersInWorkCentre(_ context.Context, workCentreID string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.WorkCentreID == workCentreID && o.Active() {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateOrderWorkCentreAndPosition writes a single placement.
func (r *MemoryRepository) UpdateOrderWorkCentreAndPosition(ctx context.Context, orderID, workCentreID string, position int) error {
	return r.ApplyPositions(ctx, []domain.OrderPosition{{OrderID: orderID, WorkCentreID: workCentreID, Position: position}})
}

// ApplyPositions checks every order exists before writing any placement.
func (r *MemoryRepository) ApplyPositions(_ context.Context, positions []domain.OrderPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range positions {
		if _, ok := r.orders[p.OrderID]; !ok {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, p.OrderID)
		}
	}
	now := r.nowF().UTC()
	for _, p := range positions {
		o := r.orders[p.OrderID]
		o.WorkCentreID = p.WorkCentreID
		o.Position = p.Position
		o.UpdatedAt = now
	}
	return nil
}

// UpdateOrderStatus sets the order status and returns the updated order, or nil if not found.
func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, nil
	}
	o.Status = status
	o.UpdatedAt = r.nowF().UTC()
	return copyOrder(o), nil
}

// CreateWorkCentre stores the work centre.
func (r *MemoryRepository) CreateWorkCentre(_ context.Context, wc *domain.WorkCentre) error {
	if wc.ID == "" {
		return errors.New("work centre id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workCentres[wc.ID]; ok {
		return fmt.Errorf("work centre %s already exists", wc.ID)
	}
	c := *wc
	r.workCentres[wc.ID] = &c
	return nil
}

// CreateOrder validates and stores the order.
func (r *MemoryRepository) CreateOrder(_ context.Context, o *domain.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = r.nowF().UTC()
	}
	r.orders[o.ID] = copyOrder(o)
	return nil
}
