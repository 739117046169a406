package repository

import (
	"context"
	"fmt"
	"time"

	"planning-board/internal/order/domain"
)

// DemoWorkCentres are the work centres created by SeedDemo.
var DemoWorkCentres = []domain.WorkCentre{
	{ID: "wc-cut", Code: "CUT-01", Name: "Laser cutting", Active: true},
	{ID: "wc-bend", Code: "BEND-01", Name: "Press brake", Active: true},
	{ID: "wc-weld", Code: "WELD-01", Name: "Robot welding cell", Active: true},
	{ID: "wc-pack", Code: "PACK-01", Name: "Packing", Active: true},
}

// SeedDemo creates the demo work centres and three orders per work centre.
// Order ids are numeric strings ("40", "41", ...) so they are easy to type in a client.
func SeedDemo(ctx context.Context, repo Repository) error {
	due := time.Now().UTC().Truncate(24 * time.Hour)
	next := 40
	for i := range DemoWorkCentres {
		wc := DemoWorkCentres[i]
		if err := repo.CreateWorkCentre(ctx, &wc); err != nil {
			return fmt.Errorf("create work centre %s: %w", wc.Code, err)
		}
		for pos := 1; pos <= 3; pos++ {
			d := due.AddDate(0, 0, next-38)
			o := &domain.Order{
				ID:           fmt.Sprintf("%d", next),
				OrderNumber:  fmt.Sprintf("WO-2026-%04d", next),
				WorkCentreID: wc.ID,
				Position:     pos,
				Status:       domain.OrderStatusReleased,
				Priority:     (next % 3) + 1,
				Quantity:     25 * pos,
				DueDate:      &d,
			}
			if err := repo.CreateOrder(ctx, o); err != nil {
				return fmt.Errorf("create order %s: %w", o.OrderNumber, err)
			}
			next++
		}
	}
	return nil
}
