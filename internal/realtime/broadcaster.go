package realtime

import (
	"encoding/json"
	"log"

	"planning-board/internal/board/view"
	lockdomain "planning-board/internal/draglock/domain"
	orderdomain "planning-board/internal/order/domain"
)

// Broadcaster delivers messages to sessions through their outbound queues. Delivery never
// blocks: a session whose queue is full is closed and its connection torn down.
//
// It implements draglock.Listener and the board service EventPublisher, publishing lock and
// order events to the board room.
type Broadcaster struct {
	registry  *Registry
	boardRoom string
}

// NewBroadcaster returns a Broadcaster over registry publishing board events to boardRoom.
func NewBroadcaster(registry *Registry, boardRoom string) *Broadcaster {
	return &Broadcaster{registry: registry, boardRoom: boardRoom}
}

// BoardRoom returns the room that receives board events.
func (b *Broadcaster) BoardRoom() string {
	return b.boardRoom
}

// Broadcast sends msg to every session in room and returns the number of sessions reached.
func (b *Broadcaster) Broadcast(room string, msg Message) int {
	return b.BroadcastExcept(room, "", msg)
}

// BroadcastExcept sends msg to every session in room except exceptSessionID.
func (b *Broadcaster) BroadcastExcept(room, exceptSessionID string, msg Message) int {
	frame, ok := encode(msg)
	if !ok {
		return 0
	}
	sent := 0
	for _, s := range b.registry.Sessions(room) {
		if s.ID == exceptSessionID {
			continue
		}
		if b.deliver(s, frame) {
			sent++
		}
	}
	return sent
}

// SendTo sends msg to one session and reports whether it was queued.
func (b *Broadcaster) SendTo(sessionID string, msg Message) bool {
	s, ok := b.registry.Get(sessionID)
	if !ok {
		return false
	}
	frame, ok := encode(msg)
	if !ok {
		return false
	}
	return b.deliver(s, frame)
}

func (b *Broadcaster) deliver(s *Session, frame []byte) bool {
	if s.enqueue(frame) {
		return true
	}
	if !s.Closed() {
		log.Printf("realtime: disconnected lagging session %s user_id=%s (queue full)", s.ID, s.UserID())
		s.Close()
	}
	return false
}

func encode(msg Message) ([]byte, bool) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Printf("realtime: encode %s: %v", msg.Type, err)
		return nil, false
	}
	return frame, true
}

// LockAcquired broadcasts order-locked for new and extended locks.
func (b *Broadcaster) LockAcquired(l lockdomain.DragLock, _ bool) {
	b.Broadcast(b.boardRoom, Message{Type: TypeOrderLocked, Data: OrderLockedData{
		OrderID:     l.OrderID,
		OrderNumber: l.OrderNumber,
		Holder:      view.User{UserID: l.HolderUserID, DisplayName: l.HolderDisplayName},
		Expiry:      l.ExpiresAt,
	}})
}

// LockReleased broadcasts order-unlocked.
func (b *Broadcaster) LockReleased(r lockdomain.Release) {
	b.Broadcast(b.boardRoom, Message{Type: TypeOrderUnlocked, Data: OrderUnlockedData{
		OrderID:   r.Lock.OrderID,
		Completed: r.Completed,
		Reason:    string(r.Reason),
	}})
}

// OrderMoved broadcasts order-moved.
func (b *Broadcaster) OrderMoved(o *orderdomain.Order, fromWorkCentreID, toWorkCentreID string) {
	b.Broadcast(b.boardRoom, Message{Type: TypeOrderMoved, Data: OrderMovedData{
		Order:            view.FromOrder(o),
		FromWorkCentreID: fromWorkCentreID,
		ToWorkCentreID:   toWorkCentreID,
	}})
}

// OrderUpdated broadcasts order-updated.
func (b *Broadcaster) OrderUpdated(o *orderdomain.Order) {
	b.Broadcast(b.boardRoom, Message{Type: TypeOrderUpdated, Data: OrderUpdatedData{Order: view.FromOrder(o)}})
}
