package engine

import (
	"context"

	"planning-board/internal/identity/domain"
)

// Board actions checked before a mutation or read is performed.
const (
	ActionViewBoard    = "board.view"
	ActionStartMove    = "order.move.start"
	ActionMoveOrder    = "order.move"
	ActionReorder      = "order.reorder"
	ActionUpdateStatus = "order.status.update"
	ActionViewAudit    = "audit.view"
)

// Authorizer decides whether an identity may perform a board action.
type Authorizer interface {
	Allow(ctx context.Context, ident *domain.Identity, action string) (bool, error)
}

// AllowAll permits every action. Used by tests that do not exercise policy.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(context.Context, *domain.Identity, string) (bool, error) {
	return true, nil
}
