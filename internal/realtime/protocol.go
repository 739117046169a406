package realtime

import (
	"encoding/json"
	"time"

	"planning-board/internal/board/view"
	orderservice "planning-board/internal/order/service"
)

// Client to server message types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeDragStart    = "drag-start"
	TypeDragRenew    = "drag-renew"
	TypeDragEnd      = "drag-end"
	TypeOrderMove    = "order-move"
	TypeReorder      = "reorder"
	TypePing         = "ping"
)

// Server to client message types.
const (
	TypeAuthenticated = "authenticated"
	TypeRoomJoined    = "room-joined"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeOrderLocked   = "order-locked"
	TypeDragConflict  = "drag-conflict"
	TypeLockRenewed   = "lock-renewed"
	TypeOrderUnlocked = "order-unlocked"
	TypeOrderMoved    = "order-moved"
	TypeOrderUpdated  = "order-updated"
	TypePong          = "pong"
	TypeError         = "error"
)

// Error codes carried by error messages.
const (
	CodeAuthentication   = "authentication_error"
	CodeInvalidInput     = "invalid_input"
	CodeInvalidReference = "invalid_reference"
	CodeNotFound         = "not_found"
	CodeNotHeld          = "not_held"
	CodeForbidden        = "forbidden"
	CodeServerError      = "server_error"
	CodeUnknownType      = "unknown_type"
)

// Envelope is an inbound frame. Data is decoded according to Type.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Message is an outbound frame.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type authenticateData struct {
	Token string `json:"token"`
}

type joinRoomData struct {
	Room string `json:"room"`
}

type dragStartData struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
}

type dragRenewData struct {
	OrderID string `json:"orderId"`
}

type dragEndData struct {
	OrderID            string `json:"orderId"`
	Completed          bool   `json:"completed"`
	TargetWorkCentreID string `json:"targetWorkCentreId"`
	Position           int    `json:"position"`
	Reason             string `json:"reason"`
}

type orderMoveData struct {
	OrderID        string `json:"orderId"`
	ToWorkCentreID string `json:"toWorkCentreId"`
	Position       int    `json:"position"`
	Reason         string `json:"reason"`
}

type reorderData struct {
	WorkCentreID   string                          `json:"workCentreId"`
	OrderPositions []orderservice.RawPositionEntry `json:"orderPositions"`
}

// AuthenticatedData answers a successful authentication.
type AuthenticatedData struct {
	SessionID string    `json:"sessionId"`
	User      view.User `json:"user"`
	Role      string    `json:"role,omitempty"`
}

// RoomJoinedData is sent to a session that joined a room.
type RoomJoinedData struct {
	Room    string      `json:"room"`
	Members []view.User `json:"members"`
	Locks   []view.Lock `json:"locks"`
}

// PresenceData announces a user joining or leaving a room.
type PresenceData struct {
	Room string    `json:"room"`
	User view.User `json:"user"`
}

// OrderLockedData announces a new or extended drag lock.
type OrderLockedData struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber,omitempty"`
	Holder      view.User `json:"holder"`
	Expiry      time.Time `json:"expiry"`
}

// DragConflictData tells a session the order is held by someone else.
type DragConflictData struct {
	OrderID      string    `json:"orderId"`
	HeldBy       string    `json:"heldBy"`
	HeldByUserID string    `json:"heldByUserId"`
	Expiry       time.Time `json:"expiry"`
}

// LockRenewedData answers drag-renew.
type LockRenewedData struct {
	OrderID string    `json:"orderId"`
	Expiry  time.Time `json:"expiry"`
}

// OrderUnlockedData announces a released lock.
type OrderUnlockedData struct {
	OrderID   string `json:"orderId"`
	Completed bool   `json:"completed"`
	Reason    string `json:"reason"`
}

// OrderMovedData announces a new placement of an order.
type OrderMovedData struct {
	Order            view.Order `json:"order"`
	FromWorkCentreID string     `json:"fromWorkCentreId"`
	ToWorkCentreID   string     `json:"toWorkCentreId"`
}

// OrderUpdatedData announces changed order fields.
type OrderUpdatedData struct {
	Order view.Order `json:"order"`
}

// ErrorData describes a failed request.
type ErrorData struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}
