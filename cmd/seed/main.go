// seed inserts the demo work centres, orders and users into Postgres for local testing, and
// prints access tokens for the demo users when JWT_PRIVATE_KEY is set.
// Idempotent: skips inserts if the first demo work centre already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"planning-board/internal/config"
	"planning-board/internal/db"
	orderrepo "planning-board/internal/order/repository"
	"planning-board/internal/security"
	userrepo "planning-board/internal/user/repository"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	orders := orderrepo.NewPostgresRepository(conn)
	users := userrepo.NewPostgresRepository(conn)

	existing, err := orders.FindWorkCentre(ctx, orderrepo.DemoWorkCentres[0].ID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping inserts.", existing.Code)
	} else {
		if err := orderrepo.SeedDemo(ctx, orders); err != nil {
			log.Fatalf("seed orders: %v", err)
		}
		if err := userrepo.SeedDemo(ctx, users); err != nil {
			log.Fatalf("seed users: %v", err)
		}
		log.Println("Seed completed successfully.")
	}

	if cfg.JWTPrivateKey == "" {
		fmt.Println("JWT_PRIVATE_KEY not set; no dev tokens issued.")
		return
	}
	key, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("JWT_PRIVATE_KEY: %v", err)
	}
	tokens := security.NewTokenProvider(key, key.Public(), cfg.JWTIssuer, cfg.JWTAudience, tokenTTL)
	for _, u := range userrepo.DemoUsers {
		token, exp, err := tokens.IssueAccess(u.ID, u.Name, string(u.Role))
		if err != nil {
			log.Fatalf("issue token for %s: %v", u.ID, err)
		}
		fmt.Printf("%s (%s, expires %s):\n  %s\n", u.Name, u.Role, exp.Format(time.RFC3339), token)
	}
}
