package repository

import (
	"context"
	"fmt"

	"planning-board/internal/user/domain"
)

// DemoUsers are the users created by SeedDemo. Tokens for them are printed by cmd/seed.
var DemoUsers = []domain.User{
	{ID: "u-alice", Email: "alice@plant.example", Name: "Alice Planner", Role: domain.RoleScheduler},
	{ID: "u-bob", Email: "bob@plant.example", Name: "Bob Scheduler", Role: domain.RoleScheduler},
	{ID: "u-carol", Email: "carol@plant.example", Name: "Carol Supervisor", Role: domain.RoleSupervisor},
	{ID: "u-dave", Email: "dave@plant.example", Name: "Dave Viewer", Role: domain.RoleViewer},
}

// SeedDemo creates the demo users.
func SeedDemo(ctx context.Context, repo Repository) error {
	for i := range DemoUsers {
		u := DemoUsers[i]
		if err := repo.Create(ctx, &u); err != nil {
			return fmt.Errorf("create user %s: %w", u.Email, err)
		}
	}
	return nil
}
