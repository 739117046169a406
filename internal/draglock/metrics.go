package draglock

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"planning-board/internal/draglock/domain"
)

const meterName = "planning-board/draglock"

// metrics records drag lock activity on the global MeterProvider. All methods are nil-safe.
type metrics struct {
	acquired  metric.Int64Counter
	conflicts metric.Int64Counter
	released  metric.Int64Counter
}

func newMetrics(store Store) *metrics {
	meter := otel.GetMeterProvider().Meter(meterName)
	m := &metrics{}
	var err error
	if m.acquired, err = meter.Int64Counter("draglock.acquired",
		metric.WithDescription("Drag locks granted, including renewals by the holder")); err != nil {
		log.Printf("draglock: metric draglock.acquired: %v", err)
	}
	if m.conflicts, err = meter.Int64Counter("draglock.conflicts",
		metric.WithDescription("Drag-start attempts rejected because another user holds the lock")); err != nil {
		log.Printf("draglock: metric draglock.conflicts: %v", err)
	}
	if m.released, err = meter.Int64Counter("draglock.released",
		metric.WithDescription("Drag locks removed, by reason")); err != nil {
		log.Printf("draglock: metric draglock.released: %v", err)
	}
	if _, err = meter.Int64ObservableGauge("draglock.active",
		metric.WithDescription("Drag locks currently stored"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(store.Len()))
			return nil
		})); err != nil {
		log.Printf("draglock: metric draglock.active: %v", err)
	}
	return m
}

func (m *metrics) acquire(renewed bool) {
	if m == nil || m.acquired == nil {
		return
	}
	m.acquired.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("renewed", renewed)))
}

func (m *metrics) conflict() {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.Add(context.Background(), 1)
}

func (m *metrics) release(reason domain.ReleaseReason) {
	if m == nil || m.released == nil {
		return
	}
	m.released.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}
