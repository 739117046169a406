package draglock

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper periodically removes expired drag locks so that abandoned drags are released and
// broadcast even when nobody tries to take the order over.
type Sweeper struct {
	manager  *Manager
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper returns a sweeper for m. A non-positive interval uses a sixth of the lock TTL,
// never less than one second.
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = m.TTL() / 6
		if interval < time.Second {
			interval = time.Second
		}
	}
	return &Sweeper{manager: m, interval: interval}
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start runs the sweep loop in a new goroutine until ctx is cancelled or Stop is called.
// Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("draglock: sweeper started with interval %v", s.interval)
	for {
		select {
		case <-ticker.C:
			if removed := s.manager.ExpireSweep(); len(removed) > 0 {
				log.Printf("draglock: swept %d expired lock(s)", len(removed))
			}
		case <-ctx.Done():
			log.Println("draglock: sweeper stopped")
			return
		}
	}
}
