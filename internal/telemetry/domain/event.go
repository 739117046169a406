package domain

import (
	"encoding/json"
	"time"
)

// Board event types published to telemetry sinks.
const (
	EventOrderLocked   = "order.locked"
	EventOrderUnlocked = "order.unlocked"
	EventLockConflict  = "order.lock_conflict"
	EventOrderMoved    = "order.moved"
	EventOrdersReorder = "orders.reordered"
	EventOrderUpdated  = "order.updated"
)

// BoardEvent is one board activity record. It is serialized as JSON on Kafka and pushed to Loki by the worker.
type BoardEvent struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Source       string          `json:"source"`
	UserID       string          `json:"userId,omitempty"`
	OrderID      string          `json:"orderId,omitempty"`
	WorkCentreID string          `json:"workCentreId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// EventHTTPRequest records one served API request.
const EventHTTPRequest = "http.request"
