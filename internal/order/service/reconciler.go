package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"planning-board/internal/order/domain"
	"planning-board/internal/order/repository"
)

var (
	// ErrNotFound is returned when the work centre (or the order being moved) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference is returned when an order does not belong to the target work centre.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrInvalidInput is returned for malformed position entries. Nothing is read or written.
	ErrInvalidInput = errors.New("invalid input")
)

// RawPositionEntry is one element of a client-submitted ordering before validation.
type RawPositionEntry struct {
	OrderID  string      `json:"orderId"`
	Position json.Number `json:"position"`
}

// PositionInput is a validated desired placement of one order.
type PositionInput struct {
	OrderID  string
	Position int
}

// ParsePositionInputs validates raw entries: every entry needs an order id and a positive
// integer position, and an order may appear only once.
func ParsePositionInputs(raw []RawPositionEntry) ([]PositionInput, error) {
	out := make([]PositionInput, 0, len(raw))
	for i, e := range raw {
		id := strings.TrimSpace(e.OrderID)
		if id == "" {
			return nil, fmt.Errorf("%w: entry %d: orderId is required", ErrInvalidInput, i)
		}
		if e.Position == "" {
			return nil, fmt.Errorf("%w: entry %d: position is required", ErrInvalidInput, i)
		}
		pos, err := strconv.Atoi(e.Position.String())
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: position %q is not an integer", ErrInvalidInput, i, e.Position)
		}
		out = append(out, PositionInput{OrderID: id, Position: pos})
	}
	if err := validateInputs(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validateInputs(entries []PositionInput) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: orderPositions must not be empty", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.OrderID == "" {
			return fmt.Errorf("%w: entry %d: orderId is required", ErrInvalidInput, i)
		}
		if e.Position < 1 {
			return fmt.Errorf("%w: entry %d: position must be positive", ErrInvalidInput, i)
		}
		if _, dup := seen[e.OrderID]; dup {
			return fmt.Errorf("%w: order %s listed more than once", ErrInvalidInput, e.OrderID)
		}
		seen[e.OrderID] = struct{}{}
	}
	return nil
}

// ReorderResult is the outcome of a reorder pass.
type ReorderResult struct {
	WorkCentreID string
	Positions    []domain.OrderPosition // every active order of the work centre, in final order
	Changed      []*domain.Order        // orders whose position changed, with updated fields
}

// MoveResult is the outcome of moving one order.
type MoveResult struct {
	Order            *domain.Order
	FromWorkCentreID string
	ToWorkCentreID   string
	Changed          []*domain.Order // every order whose placement changed, including Order when it moved
}

// Reconciler recomputes dense queue positions and persists only the rows that changed, as one
// atomic batch. Passes are serialized so two reconciliations never interleave.
type Reconciler struct {
	mu   sync.Mutex
	repo repository.Repository
}

// NewReconciler returns a Reconciler writing through repo.
func NewReconciler(repo repository.Repository) *Reconciler {
	return &Reconciler{repo: repo}
}

// Reorder places the listed orders of workCentreID at their desired positions, keeping the
// relative order of every unlisted order, and renumbers the queue densely from 1.
func (r *Reconciler) Reorder(ctx context.Context, workCentreID string, entries []PositionInput) (*ReorderResult, error) {
	if err := validateInputs(entries); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.requireWorkCentre(ctx, workCentreID); err != nil {
		return nil, err
	}
	current, err := r.repo.ListOrdersInWorkCentre(ctx, workCentreID)
	if err != nil {
		return nil, fmt.Errorf("list orders in work centre %s: %w", workCentreID, err)
	}
	byID := make(map[string]*domain.Order, len(current))
	for _, o := range current {
		byID[o.ID] = o
	}
	moved := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := byID[e.OrderID]; !ok {
			return nil, fmt.Errorf("%w: order %s does not belong to work centre %s", ErrInvalidReference, e.OrderID, workCentreID)
		}
		moved[e.OrderID] = struct{}{}
	}

	untouched := make([]string, 0, len(current))
	for _, o := range current {
		if _, ok := moved[o.ID]; !ok {
			untouched = append(untouched, o.ID)
		}
	}
	final := mergeQueue(untouched, entries)

	res := &ReorderResult{WorkCentreID: workCentreID, Positions: make([]domain.OrderPosition, 0, len(final))}
	var writes []domain.OrderPosition
	for i, id := range final {
		p := domain.OrderPosition{OrderID: id, WorkCentreID: workCentreID, Position: i + 1}
		res.Positions = append(res.Positions, p)
		if o := byID[id]; o.Position != p.Position {
			o.Position = p.Position
			writes = append(writes, p)
			res.Changed = append(res.Changed, o)
		}
	}
	if err := r.persist(ctx, writes); err != nil {
		return nil, err
	}
	return res, nil
}

// Move assigns orderID to toWorkCentreID at position (0 appends to the end; positions past the
// end are clamped), shifting the destination queue and compacting the source queue in one batch.
func (r *Reconciler) Move(ctx context.Context, orderID, toWorkCentreID string, position int) (*MoveResult, error) {
	if orderID == "" || toWorkCentreID == "" {
		return nil, fmt.Errorf("%w: orderId and toWorkCentreId are required", ErrInvalidInput)
	}
	if position < 0 {
		return nil, fmt.Errorf("%w: position must be positive", ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, err := r.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if !order.Active() {
		return nil, fmt.Errorf("%w: order %s is %s and cannot be moved", ErrInvalidInput, orderID, order.Status)
	}
	wc, err := r.requireWorkCentre(ctx, toWorkCentreID)
	if err != nil {
		return nil, err
	}
	if !wc.Active {
		return nil, fmt.Errorf("%w: work centre %s is inactive", ErrInvalidReference, toWorkCentreID)
	}
	from := order.WorkCentreID

	dest, err := r.repo.ListOrdersInWorkCentre(ctx, toWorkCentreID)
	if err != nil {
		return nil, fmt.Errorf("list orders in work centre %s: %w", toWorkCentreID, err)
	}
	byID := map[string]*domain.Order{order.ID: order}
	untouched := make([]string, 0, len(dest))
	for _, o := range dest {
		if o.ID == order.ID {
			continue
		}
		byID[o.ID] = o
		untouched = append(untouched, o.ID)
	}
	if position == 0 || position > len(untouched)+1 {
		position = len(untouched) + 1
	}

	res := &MoveResult{FromWorkCentreID: from, ToWorkCentreID: toWorkCentreID}
	var writes []domain.OrderPosition
	place := func(id, wcID string, pos int) {
		o := byID[id]
		if o.WorkCentreID == wcID && o.Position == pos {
			return
		}
		o.WorkCentreID = wcID
		o.Position = pos
		writes = append(writes, domain.OrderPosition{OrderID: id, WorkCentreID: wcID, Position: pos})
		res.Changed = append(res.Changed, o)
	}

	for i, id := range mergeQueue(untouched, []PositionInput{{OrderID: order.ID, Position: position}}) {
		place(id, toWorkCentreID, i+1)
	}
	if from != toWorkCentreID {
		source, err := r.repo.ListOrdersInWorkCentre(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("list orders in work centre %s: %w", from, err)
		}
		pos := 0
		for _, o := range source {
			if o.ID == order.ID {
				continue
			}
			pos++
			byID[o.ID] = o
			place(o.ID, from, pos)
		}
	}

	if err := r.persist(ctx, writes); err != nil {
		return nil, err
	}
	res.Order = order
	return res, nil
}

func (r *Reconciler) requireWorkCentre(ctx context.Context, id string) (*domain.WorkCentre, error) {
	wc, err := r.repo.FindWorkCentre(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find work centre %s: %w", id, err)
	}
	if wc == nil {
		return nil, fmt.Errorf("%w: work centre %s", ErrNotFound, id)
	}
	return wc, nil
}

func (r *Reconciler) persist(ctx context.Context, writes []domain.OrderPosition) error {
	switch len(writes) {
	case 0:
		return nil
	case 1:
		w := writes[0]
		if err := r.repo.UpdateOrderWorkCentreAndPosition(ctx, w.OrderID, w.WorkCentreID, w.Position); err != nil {
			return fmt.Errorf("update position of order %s: %w", w.OrderID, err)
		}
		return nil
	default:
		if err := r.repo.ApplyPositions(ctx, writes); err != nil {
			return fmt.Errorf("apply %d positions: %w", len(writes), err)
		}
		return nil
	}
}

// mergeQueue interleaves moved entries into the untouched queue. Moved entries keep their
// submission order; a desired position only decides how many untouched orders precede an entry:
// slot k takes the next moved entry when its desired position is at most k or no untouched
// orders remain.
func mergeQueue(untouched []string, moved []PositionInput) []string {
	out := make([]string, 0, len(untouched)+len(moved))
	ui, mi := 0, 0
	for k := 1; k <= len(untouched)+len(moved); k++ {
		if mi < len(moved) && (moved[mi].Position <= k || ui >= len(untouched)) {
			out = append(out, moved[mi].OrderID)
			mi++
			continue
		}
		out = append(out, untouched[ui])
		ui++
	}
	return out
}
