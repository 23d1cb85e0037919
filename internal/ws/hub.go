package ws

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub is the room registry: the in-memory mapping from room id to the
// sessions currently joined. Mutations appear atomic to a concurrent
// broadcast enumeration.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int]map[*Session]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[int]map[*Session]bool)}
}

// Join registers a session in a room. Joining twice is a no-op; the
// return value reports whether this call added the session.
func (h *Hub) Join(roomID int, s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*Session]bool)
		h.rooms[roomID] = room
	}
	if room[s] {
		return false
	}
	room[s] = true
	return true
}

// Leave removes a session from a room. Idempotent.
func (h *Hub) Leave(roomID int, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(roomID, s)
}

func (h *Hub) leaveLocked(roomID int, s *Session) {
	if sessions, ok := h.rooms[roomID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// DropSession removes the session from every room it was in and returns
// the ids of those rooms.
func (h *Hub) DropSession(s *Session) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dropped []int
	for roomID, sessions := range h.rooms {
		if sessions[s] {
			dropped = append(dropped, roomID)
			h.leaveLocked(roomID, s)
		}
	}
	return dropped
}

// RoomSize returns the number of sessions currently joined to the room.
func (h *Hub) RoomSize(roomID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Broadcast fans an event out to every session in the room, skipping
// exclude when non-nil. Returns the number of sessions reached.
func (h *Hub) Broadcast(roomID int, event string, data any, exclude *Session) int {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("broadcast encode failed")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[roomID]))
	for s := range h.rooms[roomID] {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.queueBytes(payload); err != nil {
			// The peer stopped draining; closing the transport lets the
			// session's read pump run disconnect cleanup.
			log.Warn().Str("session_id", s.ID).Int("room_id", roomID).Msg("send queue full, closing session")
			s.Close()
			continue
		}
		delivered++
	}
	return delivered
}
