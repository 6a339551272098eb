package ws

import (
	"slices"
	"sync"
)

// Session is the per-connection context handed to event handlers: who is
// connected and which rooms the connection joined.
//
// The room set is owned by the Hub. Handlers read it; they change it only
// through EventPublisher.JoinRoom and LeaveRoom so the Hub's room index stays
// in step.
type Session struct {
	ConnID string
	UserID string

	mu            sync.RWMutex
	rooms         map[string]struct{}
	notifications bool
}

// NewSession creates a session subscribed to notifications. rooms seeds the
// room set, which is how tests build a session without a Hub.
func NewSession(connID, userID string, rooms ...string) *Session {
	s := &Session{
		ConnID:        connID,
		UserID:        userID,
		rooms:         make(map[string]struct{}, len(rooms)),
		notifications: true,
	}
	for _, r := range rooms {
		s.rooms[r] = struct{}{}
	}
	return s
}

// InRoom reports whether the connection joined room.
func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rooms[room]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	slices.Sort(rooms)
	return rooms
}

func (s *Session) join(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; ok {
		return false
	}
	s.rooms[room] = struct{}{}
	return true
}

func (s *Session) leave(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

// NotificationsEnabled reports whether pushed notifications reach this connection.
func (s *Session) NotificationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifications
}

func (s *Session) SetNotifications(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = enabled
}
