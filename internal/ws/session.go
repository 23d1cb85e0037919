package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

var errSendQueueFull = errors.New("session send queue is full")

// Session is one client's live connection. Inbound events are dispatched
// strictly sequentially by the read pump; outbound frames go through a
// buffered queue drained by the write pump.
type Session struct {
	ID   string
	Info ConnInfo

	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[int]bool

	closeOnce sync.Once
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, info ConnInfo) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Info:  info,
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		rooms: make(map[int]bool),
	}
}

// Queue frames an event and enqueues it for delivery. It never blocks; a
// full queue means the peer stopped draining and the frame is dropped.
func (s *Session) Queue(event string, data any) error {
	payload, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}
	return s.queueBytes(payload)
}

// QueueError delivers an error event to this session only.
func (s *Session) QueueError(message string) {
	if err := s.Queue(EventError, ErrorPayload{Message: message}); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("dropping error event")
	}
}

func (s *Session) queueBytes(payload []byte) error {
	select {
	case s.send <- payload:
		return nil
	default:
		return errSendQueueFull
	}
}

func (s *Session) trackJoin(roomID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = true
}

func (s *Session) trackLeave(roomID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Rooms returns the ids of rooms the session has joined.
func (s *Session) Rooms() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]int, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// InRoom reports whether the session has joined the room.
func (s *Session) InRoom(roomID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

// Close tears down the transport. The read pump observes the closed
// connection and runs disconnect cleanup.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// ReadPump reads frames until the connection drops and dispatches each one
// sequentially. It must run on its own goroutine, one per session.
func (s *Session) ReadPump(ctx context.Context, dispatch func(ctx context.Context, s *Session, env Envelope)) {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("session_id", s.ID).Msg("websocket read failed")
			}
			return
		}
		dispatch(ctx, s, env)
	}
}

// WritePump drains the send queue and keeps the connection alive with
// pings. It must run on its own goroutine, one per session.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
