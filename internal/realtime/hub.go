// README: In-process Registry: one session per user, each with a buffered outbox and its own writer.
package realtime

import (
	"log/slog"
	"sync"

	"campusride/internal/observability"
	"campusride/internal/types"
)

type Session struct {
	ID     types.ID
	UserID types.ID

	conn Conn
	out  chan Message
	done chan struct{}
	once sync.Once
}

// Done is closed once the session has been closed, by Unregister, by a
// newer registration for the same user, or by a write failure.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[types.ID]*Session
	rooms    map[types.ID]map[types.ID]struct{}
	buffer   int
	logger   *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		sessions: make(map[types.ID]*Session),
		rooms:    make(map[types.ID]map[types.ID]struct{}),
		buffer:   buffer,
		logger:   logger,
	}
}

// Register attaches conn to userID. A previous session for the same user is
// closed and replaced.
func (h *Hub) Register(userID types.ID, conn Conn) *Session {
	s := &Session{
		ID:     types.NewID(),
		UserID: userID,
		conn:   conn,
		out:    make(chan Message, h.buffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	prev := h.sessions[userID]
	h.sessions[userID] = s
	h.mu.Unlock()

	if prev != nil {
		prev.close()
		h.logger.Info("realtime_session_replaced", "user_id", userID, "session_id", prev.ID)
	} else {
		observability.ConnectionsActive.Inc()
	}
	go h.writeLoop(s)
	return s
}

// Unregister removes s if it is still the user's current session.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	current := h.sessions[s.UserID] == s
	if current {
		delete(h.sessions, s.UserID)
	}
	h.mu.Unlock()

	if current {
		observability.ConnectionsActive.Dec()
	}
	s.close()
}

func (h *Hub) writeLoop(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := s.conn.WriteJSON(msg); err != nil {
				h.logger.Warn("realtime_write_failed", "user_id", s.UserID, "type", msg.Type, "error", err)
				h.Unregister(s)
				return
			}
		}
	}
}

func (h *Hub) Connected(userID types.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

func (h *Hub) Send(userID types.ID, msg Message) bool {
	h.mu.RLock()
	s := h.sessions[userID]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		observability.MessagesDropped.Inc()
		h.logger.Warn("realtime_outbox_full", "user_id", userID, "type", msg.Type)
		return false
	}
}

func (h *Hub) Broadcast(userIDs []types.ID, msg Message) int {
	return broadcast(h.Send, userIDs, msg)
}

func (h *Hub) BroadcastRide(rideID types.ID, msg Message) int {
	return broadcast(h.Send, h.members(rideID), msg)
}

func (h *Hub) JoinRide(rideID types.ID, userIDs ...types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[rideID]
	if room == nil {
		room = make(map[types.ID]struct{})
		h.rooms[rideID] = room
	}
	for _, id := range userIDs {
		room[id] = struct{}{}
	}
}

func (h *Hub) LeaveRide(rideID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, rideID)
}

func (h *Hub) members(rideID types.ID) []types.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.ID, 0, len(h.rooms[rideID]))
	for id := range h.rooms[rideID] {
		out = append(out, id)
	}
	return out
}

// Close closes every session. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[types.ID]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		observability.ConnectionsActive.Dec()
		s.close()
	}
}
