package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"community-chat-service/internal/observability"
	"community-chat-service/internal/repositories"
	"community-chat-service/internal/telemetry"
)

const (
	historyLimit = 50
	maxBodyRunes = 2000
)

// User-facing error messages surfaced through the error event.
const (
	msgRoomNotFound     = "chat room not found"
	msgNotAMember       = "you are not a member of this community"
	msgEmptyMessage     = "message is empty"
	msgMessageTooLong   = "message is too long"
	msgStoreUnavailable = "chat is temporarily unavailable"
	msgInvalidPayload   = "invalid payload"
)

// Gateway binds sessions to the hub, the membership oracle and the message
// store, and implements the join/send/typing protocol.
type Gateway struct {
	hub      *Hub
	rooms    repositories.RoomRepository
	members  repositories.MembershipRepository
	messages repositories.MessageRepository
	audit    *telemetry.AuditEmitter

	mu        sync.Mutex
	roomLocks map[int]*sync.Mutex
}

// NewGateway constructs a Gateway. audit may be nil.
func NewGateway(hub *Hub, rooms repositories.RoomRepository, members repositories.MembershipRepository, messages repositories.MessageRepository, audit *telemetry.AuditEmitter) *Gateway {
	return &Gateway{
		hub:       hub,
		rooms:     rooms,
		members:   members,
		messages:  messages,
		audit:     audit,
		roomLocks: make(map[int]*sync.Mutex),
	}
}

// Dispatch routes one inbound frame to its handler. Called sequentially
// per session by the read pump.
func (g *Gateway) Dispatch(ctx context.Context, s *Session, env Envelope) {
	ctx, span := otel.Tracer("community-chat/gateway").Start(ctx, "gateway."+env.Event)
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	switch env.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if !g.decode(ctx, s, env, &p) {
			return
		}
		g.HandleJoin(ctx, s, p)
	case EventLeaveRoom:
		var p LeaveRoomPayload
		if !g.decode(ctx, s, env, &p) {
			return
		}
		g.HandleLeave(s, p)
	case EventSendMessage:
		var p SendMessagePayload
		if !g.decode(ctx, s, env, &p) {
			return
		}
		g.HandleSend(ctx, s, p)
	case EventTyping:
		var p TypingPayload
		if !g.decode(ctx, s, env, &p) {
			return
		}
		g.HandleTyping(s, p)
	case EventStopTyping:
		var p StopTypingPayload
		if !g.decode(ctx, s, env, &p) {
			return
		}
		g.HandleStopTyping(s, p)
	default:
		log.Debug().Str("event", env.Event).Str("session_id", s.ID).Msg("unknown event")
	}
}

func (g *Gateway) decode(ctx context.Context, s *Session, env Envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		g.reject(ctx, s, env.Event, "invalid_payload", msgInvalidPayload, 0)
		return false
	}
	return true
}

// reject surfaces a protocol rejection on all three channels: the error
// event back to the session, the metrics counter, and the audit stream.
func (g *Gateway) reject(ctx context.Context, s *Session, event, outcome, msg string, userID int) {
	observability.IncWSEvent(event, outcome)
	s.QueueError(msg)

	var uid *string
	if userID != 0 {
		v := strconv.Itoa(userID)
		uid = &v
	}
	g.audit.Emit(ctx, "WARN", event+" rejected: "+outcome, s.Info.RequestID, uid)
}

// HandleJoin authorizes the session against community membership and, on
// success, registers it in the room and delivers recent history to the
// requesting session only.
func (g *Gateway) HandleJoin(ctx context.Context, s *Session, p JoinRoomPayload) {
	communityID, err := g.rooms.CommunityForRoom(ctx, p.ChatRoomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			g.reject(ctx, s, EventJoinRoom, "room_not_found", msgRoomNotFound, p.UserID)
			return
		}
		g.reject(ctx, s, EventJoinRoom, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}

	member, err := g.members.IsMember(ctx, communityID, p.UserID)
	if err != nil {
		g.reject(ctx, s, EventJoinRoom, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}
	if !member {
		g.reject(ctx, s, EventJoinRoom, "not_a_member", msgNotAMember, p.UserID)
		return
	}

	added := g.hub.Join(p.ChatRoomID, s)
	s.trackJoin(p.ChatRoomID)

	history, err := g.messages.LastN(ctx, p.ChatRoomID, historyLimit)
	if err != nil {
		// Fail fast, but only undo a join this request introduced; a
		// re-join must not evict an existing membership.
		if added {
			g.hub.Leave(p.ChatRoomID, s)
			s.trackLeave(p.ChatRoomID)
		}
		g.reject(ctx, s, EventJoinRoom, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}

	// The store returns newest first; history is delivered in
	// chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	observability.IncWSEvent(EventJoinRoom, "ok")
	if err := s.Queue(EventMessagesLoaded, history); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Int("room_id", p.ChatRoomID).Msg("dropping history delivery")
	}
	log.Info().Str("session_id", s.ID).Int("room_id", p.ChatRoomID).Int("user_id", p.UserID).Msg("session joined room")
}

// HandleLeave removes the session from the room. Idempotent, never errors.
func (g *Gateway) HandleLeave(s *Session, p LeaveRoomPayload) {
	g.hub.Leave(p.ChatRoomID, s)
	s.trackLeave(p.ChatRoomID)
	observability.IncWSEvent(EventLeaveRoom, "ok")
}

// HandleSend validates, re-authorizes, persists and broadcasts a message.
// Persist-then-broadcast is atomic per room so every session observes the
// same order.
func (g *Gateway) HandleSend(ctx context.Context, s *Session, p SendMessagePayload) {
	body := strings.TrimSpace(p.Message)
	if body == "" {
		g.reject(ctx, s, EventSendMessage, "empty_message", msgEmptyMessage, p.UserID)
		return
	}
	if utf8.RuneCountInString(body) > maxBodyRunes {
		g.reject(ctx, s, EventSendMessage, "message_too_long", msgMessageTooLong, p.UserID)
		return
	}

	communityID, err := g.rooms.CommunityForRoom(ctx, p.ChatRoomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			g.reject(ctx, s, EventSendMessage, "room_not_found", msgRoomNotFound, p.UserID)
			return
		}
		g.reject(ctx, s, EventSendMessage, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}

	// Membership is re-checked on every send; it can change between join
	// and send.
	member, err := g.members.IsMember(ctx, communityID, p.UserID)
	if err != nil {
		g.reject(ctx, s, EventSendMessage, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}
	if !member {
		g.reject(ctx, s, EventSendMessage, "not_a_member", msgNotAMember, p.UserID)
		return
	}

	lock := g.roomLock(p.ChatRoomID)
	lock.Lock()
	defer lock.Unlock()

	msg, err := g.messages.Insert(ctx, p.ChatRoomID, p.UserID, p.UserName, p.UserImage, body)
	if err != nil {
		g.reject(ctx, s, EventSendMessage, "store_unavailable", msgStoreUnavailable, p.UserID)
		return
	}

	delivered := g.hub.Broadcast(p.ChatRoomID, EventNewMessage, msg, nil)
	observability.IncWSEvent(EventSendMessage, "ok")
	observability.IncMessagePersisted()
	observability.ObserveFanout(delivered)
}

// HandleTyping relays a typing signal to every other session in the room.
// Typing is an ephemeral presence signal: never persisted, not
// membership-checked.
func (g *Gateway) HandleTyping(s *Session, p TypingPayload) {
	g.hub.Broadcast(p.ChatRoomID, EventUserTyping, UserTypingPayload{UserName: p.UserName}, s)
	observability.IncWSEvent(EventTyping, "ok")
}

// HandleStopTyping relays the end of a typing signal, sender excluded.
func (g *Gateway) HandleStopTyping(s *Session, p StopTypingPayload) {
	g.hub.Broadcast(p.ChatRoomID, EventUserStoppedTyping, struct{}{}, s)
	observability.IncWSEvent(EventStopTyping, "ok")
}

// HandleDisconnect removes the session from every room it had joined.
func (g *Gateway) HandleDisconnect(s *Session) {
	rooms := g.hub.DropSession(s)
	if len(rooms) > 0 {
		log.Info().Str("session_id", s.ID).Ints("room_ids", rooms).Msg("session left rooms on disconnect")
	}
}

func (g *Gateway) roomLock(roomID int) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		g.roomLocks[roomID] = lock
	}
	return lock
}
