// Package service implements the planning board operations used by the REST and WebSocket
// surfaces: drag locks, moves, reorders and status changes, each authorized, audited, and
// broadcast to connected clients.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"planning-board/internal/audit"
	auditdomain "planning-board/internal/audit/domain"
	auditrepo "planning-board/internal/audit/repository"
	"planning-board/internal/draglock"
	lockdomain "planning-board/internal/draglock/domain"
	identitydomain "planning-board/internal/identity/domain"
	identityservice "planning-board/internal/identity/service"
	orderdomain "planning-board/internal/order/domain"
	orderrepo "planning-board/internal/order/repository"
	orderservice "planning-board/internal/order/service"
	"planning-board/internal/policy/engine"
	"planning-board/internal/telemetry"
	teldomain "planning-board/internal/telemetry/domain"
)

// ErrForbidden is returned when policy denies the caller the requested action.
var ErrForbidden = errors.New("forbidden")

// EventPublisher pushes order changes to connected clients. Implemented by realtime.Broadcaster.
type EventPublisher interface {
	OrderMoved(order *orderdomain.Order, fromWorkCentreID, toWorkCentreID string)
	OrderUpdated(order *orderdomain.Order)
}

// Deps are the collaborators of Service. Locks, Reconciler and Orders are required.
type Deps struct {
	Locks      *draglock.Manager
	Reconciler *orderservice.Reconciler
	Orders     orderrepo.Repository
	// Authorizer gates every operation. Nil allows everything.
	Authorizer engine.Authorizer
	Audit      audit.AuditLogger
	AuditRepo  auditrepo.Repository
	Events     telemetry.EventEmitter
	Publisher  EventPublisher
}

// Service implements the board operations.
type Service struct {
	locks      *draglock.Manager
	reconciler *orderservice.Reconciler
	orders     orderrepo.Repository
	authz      engine.Authorizer
	audit      audit.AuditLogger
	auditRepo  auditrepo.Repository
	events     telemetry.EventEmitter
	publisher  EventPublisher
}

// NewService returns a board Service.
func NewService(deps Deps) *Service {
	authz := deps.Authorizer
	if authz == nil {
		authz = engine.AllowAll{}
	}
	return &Service{
		locks:      deps.Locks,
		reconciler: deps.Reconciler,
		orders:     deps.Orders,
		authz:      authz,
		audit:      deps.Audit,
		auditRepo:  deps.AuditRepo,
		events:     deps.Events,
		publisher:  deps.Publisher,
	}
}

// SetPublisher replaces the event publisher. The realtime hub is built after the service, so
// cmd/server wires it in afterwards.
func (s *Service) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// LockTTL returns the drag lock time-to-live.
func (s *Service) LockTTL() time.Duration {
	return s.locks.TTL()
}

func (s *Service) authorize(ctx context.Context, ident *identitydomain.Identity, action string) error {
	if ident == nil || ident.UserID == "" {
		return identityservice.ErrAuthentication
	}
	ok, err := s.authz.Allow(ctx, ident, action)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s may not perform %s", ErrForbidden, ident.UserID, action)
	}
	return nil
}

// StartMove acquires the drag lock on orderID for the caller. A lock held by someone else is
// returned as *draglock.ConflictError and recorded in the audit log.
func (s *Service) StartMove(ctx context.Context, ident *identitydomain.Identity, orderID, orderNumber string) (draglock.Result, error) {
	if err := s.authorize(ctx, ident, engine.ActionStartMove); err != nil {
		return draglock.Result{}, err
	}
	if orderID == "" {
		return draglock.Result{}, fmt.Errorf("%w: orderId is required", orderservice.ErrInvalidInput)
	}
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return draglock.Result{}, fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order == nil {
		return draglock.Result{}, fmt.Errorf("%w: order %s", orderservice.ErrNotFound, orderID)
	}
	if !order.Active() {
		return draglock.Result{}, fmt.Errorf("%w: order %s is %s and cannot be moved", orderservice.ErrInvalidInput, orderID, order.Status)
	}
	if orderNumber == "" {
		orderNumber = order.OrderNumber
	}

	res, err := s.locks.Acquire(orderID, ident.UserID, ident.Name(), orderNumber)
	if err != nil {
		if ce, ok := draglock.AsConflict(err); ok {
			s.recordConflict(ctx, ident, ce)
		}
		return draglock.Result{}, err
	}
	return res, nil
}

func (s *Service) recordConflict(ctx context.Context, ident *identitydomain.Identity, ce *draglock.ConflictError) {
	meta := map[string]any{
		"orderNumber":  ce.Holder.OrderNumber,
		"heldByUserId": ce.Holder.HolderUserID,
		"heldBy":       ce.Holder.HolderDisplayName,
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, ident.UserID, auditdomain.ActionLockConflict, orderResource(ce.OrderID), meta)
	}
	telemetry.EmitAsync(s.events, ctx, telemetry.NewEvent(teldomain.EventLockConflict, ident.UserID, ce.OrderID, "", meta))
}

// RenewMove extends the caller's lock on orderID. Returns draglock.ErrNotHeld when the caller
// has no live lock on it.
func (s *Service) RenewMove(ctx context.Context, ident *identitydomain.Identity, orderID string) (lockdomain.DragLock, error) {
	if err := s.authorize(ctx, ident, engine.ActionStartMove); err != nil {
		return lockdomain.DragLock{}, err
	}
	return s.locks.Renew(orderID, ident.UserID)
}

// MoveTarget is the optional drop target of a completed drag.
type MoveTarget struct {
	WorkCentreID string
	Position     int
	Reason       string
}

// EndResult is the outcome of EndMove.
type EndResult struct {
	Released bool
	Move     *orderservice.MoveResult
}

// EndMove finishes a drag. When completed with a target, the order is moved first; a failed
// move returns the error and leaves the lock held. Then the caller's lock is released.
func (s *Service) EndMove(ctx context.Context, ident *identitydomain.Identity, orderID string, completed bool, target *MoveTarget) (*EndResult, error) {
	if err := s.authorize(ctx, ident, engine.ActionStartMove); err != nil {
		return nil, err
	}
	res := &EndResult{}
	if completed && target != nil && target.WorkCentreID != "" {
		moved, err := s.Move(ctx, ident, orderID, target.WorkCentreID, target.Position, target.Reason)
		if err != nil {
			return nil, err
		}
		res.Move = moved
	}
	res.Released = s.locks.Release(orderID, ident.UserID, completed)
	return res, nil
}

// Move places orderID in toWorkCentreID at position (0 appends). It fails with a
// *draglock.ConflictError while another user holds the order's drag lock; no lock on the order
// can be acquired until the move has been applied.
func (s *Service) Move(ctx context.Context, ident *identitydomain.Identity, orderID, toWorkCentreID string, position int, reason string) (*orderservice.MoveResult, error) {
	if err := s.authorize(ctx, ident, engine.ActionMoveOrder); err != nil {
		return nil, err
	}
	var res *orderservice.MoveResult
	err := s.locks.Guard(ident.UserID, []string{orderID}, func() (err error) {
		res, err = s.reconciler.Move(ctx, orderID, toWorkCentreID, position)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishMoves(res.Changed, map[string]string{orderID: res.FromWorkCentreID})
	meta := map[string]any{
		"orderNumber":      res.Order.OrderNumber,
		"fromWorkCentreId": res.FromWorkCentreID,
		"toWorkCentreId":   res.ToWorkCentreID,
		"position":         res.Order.Position,
		"changed":          len(res.Changed),
	}
	if reason != "" {
		meta["reason"] = reason
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, ident.UserID, auditdomain.ActionOrderMoved, orderResource(orderID), meta)
	}
	telemetry.EmitAsync(s.events, ctx, telemetry.NewEvent(teldomain.EventOrderMoved, ident.UserID, orderID, res.ToWorkCentreID, meta))
	return res, nil
}

// Reorder applies the desired positions within workCentreID. It fails with a
// *draglock.ConflictError if any listed order is locked by another user.
func (s *Service) Reorder(ctx context.Context, ident *identitydomain.Identity, workCentreID string, entries []orderservice.PositionInput) (*orderservice.ReorderResult, error) {
	if err := s.authorize(ctx, ident, engine.ActionReorder); err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.OrderID
	}
	var res *orderservice.ReorderResult
	err := s.locks.Guard(ident.UserID, ids, func() (err error) {
		res, err = s.reconciler.Reorder(ctx, workCentreID, entries)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publishMoves(res.Changed, nil)
	meta := map[string]any{
		"requested": len(entries),
		"changed":   len(res.Changed),
	}
	if s.audit != nil {
		s.audit.LogEvent(ctx, ident.UserID, auditdomain.ActionOrdersReordered, workCentreResource(workCentreID), meta)
	}
	telemetry.EmitAsync(s.events, ctx, telemetry.NewEvent(teldomain.EventOrdersReorder, ident.UserID, "", workCentreID, meta))
	return res, nil
}

// UpdateStatus sets the status of orderID and broadcasts order-updated. An order that becomes
// completed or cancelled leaves its queue; the remaining positions are compacted on the next pass.
func (s *Service) UpdateStatus(ctx context.Context, ident *identitydomain.Identity, orderID string, status orderdomain.OrderStatus) (*orderdomain.Order, error) {
	if err := s.authorize(ctx, ident, engine.ActionUpdateStatus); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", orderservice.ErrInvalidInput, status)
	}
	var before, order *orderdomain.Order
	err := s.locks.Guard(ident.UserID, []string{orderID}, func() (err error) {
		before, err = s.orders.FindOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("find order %s: %w", orderID, err)
		}
		if before == nil {
			return fmt.Errorf("%w: order %s", orderservice.ErrNotFound, orderID)
		}
		order, err = s.orders.UpdateOrderStatus(ctx, orderID, status)
		if err != nil {
			return fmt.Errorf("update status of order %s: %w", orderID, err)
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", orderservice.ErrNotFound, orderID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !order.Active() {
		s.locks.Release(orderID, ident.UserID, false)
	}

	if s.publisher != nil {
		s.publisher.OrderUpdated(order)
	}
	meta := map[string]any{"from": string(before.Status), "to": string(order.Status)}
	if s.audit != nil {
		s.audit.LogEvent(ctx, ident.UserID, auditdomain.ActionOrderStatusChanged, orderResource(orderID), meta)
	}
	telemetry.EmitAsync(s.events, ctx, telemetry.NewEvent(teldomain.EventOrderUpdated, ident.UserID, orderID, order.WorkCentreID, meta))
	return order, nil
}

// Disconnect releases every lock held by userID. Called when the user's last realtime session
// closes; offline is re-checked atomically with the release so a session opened in the meantime
// keeps the user's locks. A nil offline releases unconditionally.
func (s *Service) Disconnect(ctx context.Context, userID string, offline func() bool) []lockdomain.DragLock {
	released := s.locks.ReleaseAllForUserIf(userID, offline)
	if len(released) > 0 {
		ids := make([]string, len(released))
		for i, l := range released {
			ids[i] = l.OrderID
		}
		log.Printf("board: released %d lock(s) of disconnected user %s", len(released), userID)
		if s.audit != nil {
			s.audit.LogEvent(ctx, userID, auditdomain.ActionLocksReleased, "user:"+userID, map[string]any{"orderIds": ids})
		}
	}
	return released
}

// WorkCentreColumn is one work centre with its active orders in queue order.
type WorkCentreColumn struct {
	WorkCentre *orderdomain.WorkCentre
	Orders     []*orderdomain.Order
}

// Snapshot is the full board state sent to clients on load.
type Snapshot struct {
	WorkCentres []WorkCentreColumn
	Locks       []lockdomain.DragLock
}

// Snapshot returns every active work centre with its queue and the live drag locks.
func (s *Service) Snapshot(ctx context.Context, ident *identitydomain.Identity) (*Snapshot, error) {
	if err := s.authorize(ctx, ident, engine.ActionViewBoard); err != nil {
		return nil, err
	}
	wcs, err := s.orders.ListWorkCentres(ctx)
	if err != nil {
		return nil, fmt.Errorf("list work centres: %w", err)
	}
	snap := &Snapshot{WorkCentres: make([]WorkCentreColumn, 0, len(wcs))}
	for _, wc := range wcs {
		if !wc.Active {
			continue
		}
		orders, err := s.orders.ListOrdersInWorkCentre(ctx, wc.ID)
		if err != nil {
			return nil, fmt.Errorf("list orders in work centre %s: %w", wc.ID, err)
		}
		snap.WorkCentres = append(snap.WorkCentres, WorkCentreColumn{WorkCentre: wc, Orders: orders})
	}
	snap.Locks = s.locks.Active()
	return snap, nil
}

// ActiveLocks returns the live drag locks in acquisition order.
func (s *Service) ActiveLocks(ctx context.Context, ident *identitydomain.Identity) ([]lockdomain.DragLock, error) {
	if err := s.authorize(ctx, ident, engine.ActionViewBoard); err != nil {
		return nil, err
	}
	return s.locks.Active(), nil
}

// AuditLog returns recent audit entries, newest first.
func (s *Service) AuditLog(ctx context.Context, ident *identitydomain.Identity, limit, offset int32) ([]*auditdomain.AuditLog, error) {
	if err := s.authorize(ctx, ident, engine.ActionViewAudit); err != nil {
		return nil, err
	}
	if s.auditRepo == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	logs, err := s.auditRepo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// publishMoves broadcasts order-moved for every changed order. from overrides the source work
// centre of orders that changed work centre; the rest moved within their own queue.
func (s *Service) publishMoves(changed []*orderdomain.Order, from map[string]string) {
	if s.publisher == nil {
		return
	}
	for _, o := range changed {
		src := o.WorkCentreID
		if f, ok := from[o.ID]; ok {
			src = f
		}
		s.publisher.OrderMoved(o, src, o.WorkCentreID)
	}
}

func orderResource(orderID string) string {
	return "order:" + orderID
}

func workCentreResource(workCentreID string) string {
	return "work_centre:" + workCentreID
}
