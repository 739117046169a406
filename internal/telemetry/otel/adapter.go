package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"planning-board/internal/telemetry"
	"planning-board/internal/telemetry/domain"
)

// loggerName is the instrumentation scope of board event log records.
const loggerName = "planning-board/events"

// NewEventEmitter returns an EventEmitter that sends board events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(loggerName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger. Used by tests with a recording logger.
func NewEventEmitterWithLogger(logger otellog.Logger) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.BoardEvent) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the board event to an OTel log record. The event data becomes the record body.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.BoardEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(event.Type)
	if len(event.Data) > 0 {
		rec.SetBody(otellog.StringValue(string(event.Data)))
	}
	addString(&rec, "event_id", event.ID)
	addString(&rec, "event_type", event.Type)
	addString(&rec, "source", event.Source)
	addString(&rec, "user_id", event.UserID)
	addString(&rec, "order_id", event.OrderID)
	addString(&rec, "work_centre_id", event.WorkCentreID)
	e.logger.Emit(ctx, rec)
	return nil
}

func addString(rec *otellog.Record, key, value string) {
	if value != "" {
		rec.AddAttributes(otellog.String(key, value))
	}
}
