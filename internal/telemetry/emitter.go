// Package telemetry publishes board activity events to the configured sinks (OTel logs, Kafka).
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"planning-board/internal/telemetry/domain"
)

// Source is recorded on every event published by this service.
const Source = "planning-board"

// EventEmitter emits board events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.BoardEvent) error
}

// MultiEmitter sends each event to every non-nil emitter and joins their errors.
type MultiEmitter []EventEmitter

// Emit sends event to all emitters.
func (m MultiEmitter) Emit(ctx context.Context, event *domain.BoardEvent) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewEvent builds a board event with a fresh id and the current time. data is JSON-encoded;
// an encoding failure is logged and the event is sent without data.
func NewEvent(eventType, userID, orderID, workCentreID string, data any) *domain.BoardEvent {
	ev := &domain.BoardEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Source:       Source,
		UserID:       userID,
		OrderID:      orderID,
		WorkCentreID: workCentreID,
		CreatedAt:    time.Now().UTC(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			log.Printf("telemetry: encode %s data: %v", eventType, err)
		} else {
			ev.Data = b
		}
	}
	return ev
}
