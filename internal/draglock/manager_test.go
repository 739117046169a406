package draglock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"planning-board/internal/draglock/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type event struct {
	kind    string // "acquired" or "released"
	orderID string
	userID  string
	renewed bool
	reason  domain.ReleaseReason
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingListener) LockAcquired(l domain.DragLock, renewed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "acquired", orderID: l.OrderID, userID: l.HolderUserID, renewed: renewed})
}

func (r *recordingListener) LockReleased(rel domain.Release) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind: "released", orderID: rel.Lock.OrderID, userID: rel.Lock.HolderUserID, reason: rel.Reason})
}

func (r *recordingListener) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func newTestManager(ttl time.Duration) (*Manager, *fakeClock, *recordingListener) {
	clock := newFakeClock()
	rec := &recordingListener{}
	m := NewManager(NewMemoryStore(), ttl, WithClock(clock.Now), WithListener(rec))
	return m, clock, rec
}

func TestManager_AcquireAndConflict(t *testing.T) {
	m, _, rec := newTestManager(30 * time.Second)

	res, err := m.Acquire("42", "A", "Alice", "WO-42")
	if err != nil {
		t.Fatalf("Acquire A: %v", err)
	}
	if res.Renewed {
		t.Error("first acquire should not be a renewal")
	}
	if res.Lock.HolderUserID != "A" || res.Lock.OrderNumber != "WO-42" {
		t.Errorf("lock = %+v", res.Lock)
	}
	if got := res.Lock.ExpiresAt.Sub(res.Lock.AcquiredAt); got != 30*time.Second {
		t.Errorf("lock lifetime = %v, want 30s", got)
	}

	_, err = m.Acquire("42", "B", "Bob", "WO-42")
	ce, ok := AsConflict(err)
	if !ok {
		t.Fatalf("Acquire B: want ConflictError, got %v", err)
	}
	if ce.OrderID != "42" || ce.Holder.HolderUserID != "A" || ce.Holder.HolderDisplayName != "Alice" {
		t.Errorf("conflict = %+v", ce)
	}

	if l := m.IsLocked("42"); l == nil || l.HolderUserID != "A" {
		t.Errorf("IsLocked = %+v, want held by A", l)
	}
	events := rec.snapshot()
	if len(events) != 1 || events[0].kind != "acquired" {
		t.Errorf("events = %+v, want a single acquire", events)
	}
}

func TestManager_AcquireSameUserExtends(t *testing.T) {
	m, clock, _ := newTestManager(30 * time.Second)

	first, err := m.Acquire("42", "A", "Alice", "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	clock.Advance(10 * time.Second)
	second, err := m.Acquire("42", "A", "Alice", "")
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}
	if !second.Renewed {
		t.Error("re-acquire should be a renewal")
	}
	if !second.Lock.ExpiresAt.After(first.Lock.ExpiresAt) {
		t.Errorf("expiry not extended: %v -> %v", first.Lock.ExpiresAt, second.Lock.ExpiresAt)
	}
	if !second.Lock.AcquiredAt.Equal(first.Lock.AcquiredAt) {
		t.Error("renewal should keep the original acquisition time")
	}
	if n := len(m.Active()); n != 1 {
		t.Errorf("Active = %d locks, want 1", n)
	}
}

func TestManager_AcquireInvalid(t *testing.T) {
	m, _, _ := newTestManager(time.Minute)
	if _, err := m.Acquire("", "A", "Alice", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty order id: want ErrInvalidRequest, got %v", err)
	}
	if _, err := m.Acquire("42", "", "", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty user id: want ErrInvalidRequest, got %v", err)
	}
}

func TestManager_ExpiredLockCanBeTakenOver(t *testing.T) {
	m, clock, rec := newTestManager(30 * time.Second)

	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatalf("Acquire A: %v", err)
	}
	clock.Advance(30 * time.Second)
	if l := m.IsLocked("42"); l != nil {
		t.Errorf("IsLocked after ttl = %+v, want nil", l)
	}

	res, err := m.Acquire("42", "B", "Bob", "")
	if err != nil {
		t.Fatalf("Acquire B after expiry: %v", err)
	}
	if res.Lock.HolderUserID != "B" || res.Renewed {
		t.Errorf("lock = %+v renewed=%v", res.Lock, res.Renewed)
	}

	events := rec.snapshot()
	want := []event{
		{kind: "acquired", orderID: "42", userID: "A"},
		{kind: "released", orderID: "42", userID: "A", reason: domain.ReasonTimeout},
		{kind: "acquired", orderID: "42", userID: "B"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestManager_Renew(t *testing.T) {
	m, clock, _ := newTestManager(30 * time.Second)

	if _, err := m.Renew("42", "A"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Renew without lock: want ErrNotHeld, got %v", err)
	}
	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Renew("42", "B"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Renew by other user: want ErrNotHeld, got %v", err)
	}

	clock.Advance(20 * time.Second)
	l, err := m.Renew("42", "A")
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if want := clock.Now().Add(30 * time.Second); !l.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", l.ExpiresAt, want)
	}

	clock.Advance(29 * time.Second)
	if m.IsLocked("42") == nil {
		t.Error("renewed lock expired early")
	}
	clock.Advance(time.Second)
	if _, err := m.Renew("42", "A"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Renew after expiry: want ErrNotHeld, got %v", err)
	}
}

func TestManager_Release(t *testing.T) {
	m, _, rec := newTestManager(time.Minute)

	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m.Release("42", "B", false) {
		t.Error("foreign release should be a no-op")
	}
	if m.IsLocked("42") == nil {
		t.Fatal("lock removed by foreign release")
	}
	if !m.Release("42", "A", true) {
		t.Error("holder release should remove the lock")
	}
	if m.IsLocked("42") != nil {
		t.Error("lock still present after release")
	}
	if m.Release("42", "A", true) {
		t.Error("second release should report nothing removed")
	}

	events := rec.snapshot()
	if len(events) != 2 || events[1].kind != "released" || events[1].reason != domain.ReasonReleased {
		t.Errorf("events = %+v", events)
	}
}

func TestManager_ReleaseAfterTTL(t *testing.T) {
	m, clock, rec := newTestManager(30 * time.Second)

	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	clock.Advance(31 * time.Second)
	if m.IsLocked("42") != nil {
		t.Fatal("lock still live after TTL")
	}
	if m.Release("42", "A", true) {
		t.Error("release of an expired lock should report false")
	}
	if len(m.ExpireSweep()) != 0 {
		t.Error("expired lock left for the sweeper")
	}

	events := rec.snapshot()
	last := events[len(events)-1]
	if len(events) != 2 || last.kind != "released" || last.reason != domain.ReasonTimeout {
		t.Errorf("events = %+v, want acquired then released with reason timeout", events)
	}
}

func TestManager_ActiveInAcquisitionOrder(t *testing.T) {
	m, clock, _ := newTestManager(30 * time.Second)

	for i, id := range []string{"7", "3", "9"} {
		if _, err := m.Acquire(id, fmt.Sprintf("u%d", i), "", ""); err != nil {
			t.Fatalf("Acquire %s: %v", id, err)
		}
		clock.Advance(5 * time.Second)
	}
	active := m.Active()
	if len(active) != 3 {
		t.Fatalf("Active = %d, want 3", len(active))
	}
	for i, id := range []string{"7", "3", "9"} {
		if active[i].OrderID != id {
			t.Errorf("Active[%d] = %s, want %s", i, active[i].OrderID, id)
		}
	}

	// "7" was acquired 15s ago; after 16 more seconds only it has expired.
	clock.Advance(16 * time.Second)
	active = m.Active()
	if len(active) != 2 || active[0].OrderID != "3" {
		t.Errorf("Active after partial expiry = %+v", active)
	}
}

func TestManager_ExpireSweep(t *testing.T) {
	m, clock, rec := newTestManager(30 * time.Second)

	if _, err := m.Acquire("1", "A", "", ""); err != nil {
		t.Fatal(err)
	}
	clock.Advance(20 * time.Second)
	if _, err := m.Acquire("2", "B", "", ""); err != nil {
		t.Fatal(err)
	}
	if removed := m.ExpireSweep(); len(removed) != 0 {
		t.Errorf("early sweep removed %d locks", len(removed))
	}

	clock.Advance(10 * time.Second)
	removed := m.ExpireSweep()
	if len(removed) != 1 || removed[0].OrderID != "1" {
		t.Fatalf("sweep removed %+v, want order 1", removed)
	}
	events := rec.snapshot()
	last := events[len(events)-1]
	if last.kind != "released" || last.reason != domain.ReasonTimeout || last.orderID != "1" {
		t.Errorf("last event = %+v, want timeout release of 1", last)
	}
	if m.IsLocked("2") == nil {
		t.Error("live lock removed by sweep")
	}
}

func TestManager_ReleaseAllForUser(t *testing.T) {
	m, _, rec := newTestManager(time.Minute)

	for _, id := range []string{"1", "2"} {
		if _, err := m.Acquire(id, "A", "Alice", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Acquire("3", "B", "Bob", ""); err != nil {
		t.Fatal(err)
	}

	removed := m.ReleaseAllForUser("A")
	if len(removed) != 2 || removed[0].OrderID != "1" || removed[1].OrderID != "2" {
		t.Fatalf("removed = %+v, want orders 1 and 2", removed)
	}
	if m.IsLocked("3") == nil {
		t.Error("other user's lock removed")
	}
	if got := m.ReleaseAllForUser(""); got != nil {
		t.Errorf("empty user released %+v", got)
	}

	var disconnects int
	for _, e := range rec.snapshot() {
		if e.kind == "released" && e.reason == domain.ReasonDisconnect {
			disconnects++
		}
	}
	if disconnects != 2 {
		t.Errorf("disconnect notifications = %d, want 2", disconnects)
	}
}

func TestManager_ConcurrentAcquireSingleWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		m := NewManager(NewMemoryStore(), time.Minute)

		const contenders = 16
		var wins atomic.Int32
		var conflicts atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				<-start
				_, err := m.Acquire("42", user, user, "")
				switch {
				case err == nil:
					wins.Add(1)
				case errors.As(err, new(*ConflictError)):
					conflicts.Add(1)
				default:
					t.Errorf("Acquire: unexpected error %v", err)
				}
			}(fmt.Sprintf("user-%d", i))
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 || conflicts.Load() != contenders-1 {
			t.Fatalf("round %d: wins=%d conflicts=%d, want exactly one winner", round, wins.Load(), conflicts.Load())
		}
	}
}

func TestManager_ListenerSeesMutationOrder(t *testing.T) {
	m, _, rec := newTestManager(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := m.Acquire(id, "A", "Alice", ""); err != nil {
				t.Errorf("Acquire: %v", err)
			}
			m.Release(id, "A", false)
		}(fmt.Sprintf("o%d", i))
	}
	wg.Wait()

	held := map[string]bool{}
	for _, e := range rec.snapshot() {
		switch e.kind {
		case "acquired":
			if held[e.orderID] {
				t.Errorf("order %s acquired twice without release", e.orderID)
			}
			held[e.orderID] = true
		case "released":
			if !held[e.orderID] {
				t.Errorf("order %s released before acquire", e.orderID)
			}
			held[e.orderID] = false
		}
	}
}

func TestNewManager_DefaultTTL(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	if m.TTL() != DefaultTTL {
		t.Errorf("TTL = %v, want %v", m.TTL(), DefaultTTL)
	}
}

func TestManager_ReleaseAllForUserIf(t *testing.T) {
	m, _, rec := newTestManager(time.Minute)

	if _, err := m.Acquire("1", "A", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if got := m.ReleaseAllForUserIf("A", func() bool { return false }); got != nil {
		t.Errorf("released %+v with a false condition", got)
	}
	if m.IsLocked("1") == nil {
		t.Fatal("lock removed with a false condition")
	}
	if got := m.ReleaseAllForUserIf("A", func() bool { return true }); len(got) != 1 {
		t.Errorf("released %d, want 1", len(got))
	}
	if events := rec.snapshot(); len(events) != 2 || events[1].reason != domain.ReasonDisconnect {
		t.Errorf("events = %+v", events)
	}
}

func TestManager_Guard(t *testing.T) {
	m, clock, _ := newTestManager(30 * time.Second)

	if _, err := m.Acquire("42", "A", "Alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("43", "B", "Bob", ""); err != nil {
		t.Fatal(err)
	}

	ran := false
	err := m.Guard("B", []string{"43", "42"}, func() error { ran = true; return nil })
	ce, ok := AsConflict(err)
	if !ok || ce.OrderID != "42" || ce.Holder.HolderUserID != "A" {
		t.Fatalf("Guard: want conflict on 42 held by A, got %v", err)
	}
	if ran {
		t.Error("fn ran despite a foreign lock")
	}

	if err := m.Guard("A", []string{"42", "44"}, func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("Guard on own and free orders: err=%v ran=%v", err, ran)
	}

	fnErr := errors.New("boom")
	if err := m.Guard("A", nil, func() error { return fnErr }); !errors.Is(err, fnErr) {
		t.Errorf("Guard: want fn error, got %v", err)
	}

	clock.Advance(31 * time.Second)
	if err := m.Guard("B", []string{"42"}, func() error { return nil }); err != nil {
		t.Errorf("Guard over an expired lock: %v", err)
	}
}

func TestManager_GuardBlocksAcquire(t *testing.T) {
	m, _, _ := newTestManager(30 * time.Second)

	acquired := make(chan error, 1)
	err := m.Guard("A", []string{"42"}, func() error {
		go func() {
			_, err := m.Acquire("42", "B", "Bob", "")
			acquired <- err
		}()
		select {
		case <-acquired:
			t.Error("Acquire completed while the guard was held")
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Guard: %v", err)
	}
	select {
	case err := <-acquired:
		if err != nil {
			t.Errorf("Acquire after guard: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not complete after the guard was released")
	}
}
