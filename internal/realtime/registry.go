package realtime

import (
	"sort"
	"sync"
)

// Member is a user present in a room, however many sessions they have there.
type Member struct {
	UserID      string
	DisplayName string
}

// Registry tracks live sessions, the room each has joined (zero or one), and the session count
// per user. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // room -> session id -> session
	roomOf   map[string]string              // session id -> room
	perUser  map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		roomOf:   make(map[string]string),
		perUser:  make(map[string]int),
	}
}

// Register adds s. Registering the same session twice is a no-op.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return
	}
	r.sessions[s.ID] = s
	r.perUser[s.UserID()]++
}

// Unregister removes the session and its room membership. lastForUser is true when the user
// has no other live session.
func (r *Registry) Unregister(sessionID string) (s *Session, lastForUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	r.leaveLocked(sessionID)
	delete(r.sessions, sessionID)
	uid := s.UserID()
	r.perUser[uid]--
	if r.perUser[uid] <= 0 {
		delete(r.perUser, uid)
		return s, true
	}
	return s, false
}

// Get returns the session with id sessionID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Join moves the session into room, leaving its previous room, and returns the previous room
// ("" if none). Unknown sessions are ignored.
func (r *Registry) Join(sessionID, room string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	previous = r.leaveLocked(sessionID)
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[sessionID] = s
	r.roomOf[sessionID] = room
	return previous
}

// Leave removes the session from its room and returns that room ("" if it was in none).
func (r *Registry) Leave(sessionID string) (room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(sessionID)
}

func (r *Registry) leaveLocked(sessionID string) string {
	room, ok := r.roomOf[sessionID]
	if !ok {
		return ""
	}
	delete(r.roomOf, sessionID)
	if members := r.rooms[room]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	return room
}

// RoomOf returns the room the session has joined, or "".
func (r *Registry) RoomOf(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomOf[sessionID]
}

// Members returns the users in room, one entry per user, sorted by display name then user id.
func (r *Registry) Members(room string) []Member {
	r.mu.RLock()
	seen := make(map[string]Member)
	for _, s := range r.rooms[room] {
		if _, ok := seen[s.UserID()]; !ok {
			seen[s.UserID()] = Member{UserID: s.UserID(), DisplayName: s.Identity.Name()}
		}
	}
	r.mu.RUnlock()

	out := make([]Member, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// UserInRoom reports whether any session of userID is in room.
func (r *Registry) UserInRoom(userID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.rooms[room] {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

// Sessions returns the sessions in room.
func (r *Registry) Sessions(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		out = append(out, s)
	}
	return out
}

// All returns every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// UserSessionCount returns the number of live sessions of userID.
func (r *Registry) UserSessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[userID]
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
