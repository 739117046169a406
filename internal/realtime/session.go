// Package realtime implements the board's WebSocket protocol: the registry of live sessions and
// their rooms, the broadcaster that fans board events out to them, and the connection handler.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"

	identitydomain "planning-board/internal/identity/domain"
)

// DefaultSendBuffer is the outbound queue length of a session.
const DefaultSendBuffer = 64

// Session is one authenticated WebSocket connection. Its identity never changes. The room is
// owned by the Registry.
type Session struct {
	ID          string
	Identity    identitydomain.Identity
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession returns a session with a fresh id and an outbound queue of buffer frames.
func NewSession(ident identitydomain.Identity, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:          uuid.New().String(),
		Identity:    ident,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
	}
}

// UserID returns the session's user id.
func (s *Session) UserID() string {
	return s.Identity.UserID
}

// enqueue queues a frame without blocking. It reports false when the queue is full or the
// session is closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound returns the queue drained by the connection writer.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session closed. Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
