// Package producer publishes board events to a message broker for the log shipping worker.
package producer

import (
	"context"

	"planning-board/internal/telemetry/domain"
)

// Producer emits board events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.BoardEvent) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
