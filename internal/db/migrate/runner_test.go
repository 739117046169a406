package migrate

import (
	"os"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", DirectionUp)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Fatalf("Run with empty DSN: err = %v", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "invalid", "UP", "Up", "both"} {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil || !strings.Contains(err.Error(), "direction must be up or down") {
				t.Errorf("Run(%q): err = %v", direction, err)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test"} {
		if err := Run(dsn, DirectionUp); err == nil {
			t.Errorf("Run with invalid DSN %q should return error", dsn)
		}
	}
}

func TestLatest(t *testing.T) {
	v, err := Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if v < 1 {
		t.Errorf("Latest = %d, want at least 1", v)
	}
}

func TestRun_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	if err := Run(dsn, DirectionUp); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != latest || dirty {
		t.Errorf("Version = %d dirty=%v, want %d clean", v, dirty, latest)
	}
	if err := Run(dsn, DirectionUp); err != nil {
		t.Errorf("second Run up should be a no-op: %v", err)
	}
}
