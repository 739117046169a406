package draglock

import (
	"context"
	"testing"
	"time"

	"planning-board/internal/draglock/domain"
)

func TestSweeper_RemovesExpiredLocks(t *testing.T) {
	m, clock, rec := newTestManager(30 * time.Second)
	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	clock.Advance(31 * time.Second)

	s := &Sweeper{manager: m, interval: 10 * time.Millisecond}
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range rec.snapshot() {
			if e.kind == "released" && e.reason == domain.ReasonTimeout && e.orderID == "42" {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper did not release the expired lock")
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	s := NewSweeper(m, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Start(ctx)
	cancel()
	s.Stop()
	s.Stop()
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	testCases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{30 * time.Second, 5 * time.Second},
		{time.Minute, 10 * time.Second},
		{3 * time.Second, time.Second},
	}
	for _, tc := range testCases {
		s := NewSweeper(NewManager(NewMemoryStore(), tc.ttl), 0)
		if s.Interval() != tc.want {
			t.Errorf("ttl %v: interval = %v, want %v", tc.ttl, s.Interval(), tc.want)
		}
	}
}
