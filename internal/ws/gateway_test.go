package ws

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"community-chat-service/internal/mocks"
	"community-chat-service/internal/models"
	"community-chat-service/internal/repositories"
	"community-chat-service/internal/telemetry"
)

func newTestSession() *Session {
	return NewSession(nil, ConnInfo{})
}

func nextEvent(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case payload := <-s.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	default:
		t.Fatal("expected a queued event")
		return Envelope{}
	}
}

func requireNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Fatalf("unexpected event queued: %s", payload)
	default:
	}
}

func errorMessage(t *testing.T, env Envelope) string {
	t.Helper()
	require.Equal(t, EventError, env.Event)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p.Message
}

func newTestGateway() (*Gateway, *Hub, *mocks.RoomRepositoryMock, *mocks.MembershipRepositoryMock, *mocks.MessageRepositoryMock) {
	rooms := new(mocks.RoomRepositoryMock)
	members := new(mocks.MembershipRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	hub := NewHub()
	return NewGateway(hub, rooms, members, messages, nil), hub, rooms, members, messages
}

func TestJoinRoomDeliversHistoryInOrder(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Once()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	// Store order is newest first.
	messages.On("LastN", mock.Anything, 5, 50).Return([]models.ChatMessage{
		{ID: 2, ChatRoomID: 5, Body: "hello"},
		{ID: 1, ChatRoomID: 5, Body: "hi"},
	}, nil).Once()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})

	require.Equal(t, 1, hub.RoomSize(5))
	require.True(t, s.InRoom(5))

	env := nextEvent(t, s)
	require.Equal(t, EventMessagesLoaded, env.Event)
	var history []models.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 2)
	require.Equal(t, "hi", history[0].Body)
	require.Equal(t, "hello", history[1].Body)

	rooms.AssertExpectations(t)
	members.AssertExpectations(t)
	messages.AssertExpectations(t)
}

func TestJoinRoomNotAMember(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Once()
	members.On("IsMember", mock.Anything, 9, 7).Return(false, nil).Once()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 7})

	require.Equal(t, 0, hub.RoomSize(5))
	require.False(t, s.InRoom(5))
	require.Equal(t, msgNotAMember, errorMessage(t, nextEvent(t, s)))
	messages.AssertNotCalled(t, "LastN", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinRoomUnknownRoom(t *testing.T) {
	gateway, hub, rooms, members, _ := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 42).Return(0, repositories.ErrRoomNotFound).Once()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 42, UserID: 1})

	require.Equal(t, 0, hub.RoomSize(42))
	require.Equal(t, msgRoomNotFound, errorMessage(t, nextEvent(t, s)))
	members.AssertNotCalled(t, "IsMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinRoomHistoryFailureRollsBack(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Once()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	messages.On("LastN", mock.Anything, 5, 50).Return(([]models.ChatMessage)(nil), context.DeadlineExceeded).Once()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})

	require.Equal(t, 0, hub.RoomSize(5))
	require.False(t, s.InRoom(5))
	require.Equal(t, msgStoreUnavailable, errorMessage(t, nextEvent(t, s)))
}

func TestJoinRoomRejoinHistoryFailureKeepsMembership(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Twice()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Twice()
	messages.On("LastN", mock.Anything, 5, 50).Return([]models.ChatMessage{}, nil).Once()
	messages.On("LastN", mock.Anything, 5, 50).Return(([]models.ChatMessage)(nil), context.DeadlineExceeded).Once()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})
	require.Equal(t, EventMessagesLoaded, nextEvent(t, s).Event)

	// A failed re-join must not evict the membership the first join
	// established.
	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})
	require.Equal(t, msgStoreUnavailable, errorMessage(t, nextEvent(t, s)))
	require.Equal(t, 1, hub.RoomSize(5))
	require.True(t, s.InRoom(5))
}

func TestJoinRoomIdempotentRegistry(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Twice()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Twice()
	messages.On("LastN", mock.Anything, 5, 50).Return([]models.ChatMessage{}, nil).Twice()

	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})
	gateway.HandleJoin(context.Background(), s, JoinRoomPayload{ChatRoomID: 5, UserID: 1})

	// Registry state is unchanged, but each join re-delivers history.
	require.Equal(t, 1, hub.RoomSize(5))
	require.Equal(t, EventMessagesLoaded, nextEvent(t, s).Event)
	require.Equal(t, EventMessagesLoaded, nextEvent(t, s).Event)
}

func TestSendMessageBroadcastsToRoomOnly(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s1 := newTestSession()
	s2 := newTestSession()
	outsider := newTestSession()
	hub.Join(5, s1)
	hub.Join(5, s2)
	hub.Join(6, outsider)

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Once()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	stored := models.ChatMessage{ID: 3, ChatRoomID: 5, AuthorID: 1, AuthorName: "Alice", Body: "hey"}
	messages.On("Insert", mock.Anything, 5, 1, "Alice", "", "hey").Return(stored, nil).Once()

	gateway.HandleSend(context.Background(), s1, SendMessagePayload{
		ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: "hey",
	})

	// The sender receives its own message through the broadcast.
	for _, s := range []*Session{s1, s2} {
		env := nextEvent(t, s)
		require.Equal(t, EventNewMessage, env.Event)
		var msg models.ChatMessage
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		require.Equal(t, "hey", msg.Body)
		require.Equal(t, 3, msg.ID)
	}
	requireNoEvent(t, outsider)
	messages.AssertExpectations(t)
}

func TestSendMessageWhitespaceOnly(t *testing.T) {
	gateway, hub, _, _, messages := newTestGateway()
	s1 := newTestSession()
	s2 := newTestSession()
	hub.Join(5, s1)
	hub.Join(5, s2)

	gateway.HandleSend(context.Background(), s1, SendMessagePayload{
		ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: "   ",
	})

	require.Equal(t, msgEmptyMessage, errorMessage(t, nextEvent(t, s1)))
	requireNoEvent(t, s2)
	messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageBodyTooLong(t *testing.T) {
	gateway, hub, _, _, messages := newTestGateway()
	s1 := newTestSession()
	s2 := newTestSession()
	hub.Join(5, s1)
	hub.Join(5, s2)

	gateway.HandleSend(context.Background(), s1, SendMessagePayload{
		ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: strings.Repeat("a", 2001),
	})

	require.Equal(t, msgMessageTooLong, errorMessage(t, nextEvent(t, s1)))
	requireNoEvent(t, s2)
	messages.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageRejectionEmitsAudit(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "community-chat-service", "test")
	hub := NewHub()
	gateway := NewGateway(hub, new(mocks.RoomRepositoryMock), new(mocks.MembershipRepositoryMock), new(mocks.MessageRepositoryMock), emitter)
	s := newTestSession()

	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok &&
			envelope.Payload.Level == "WARN" &&
			strings.Contains(envelope.Payload.Text, EventSendMessage) &&
			envelope.UserID != nil && *envelope.UserID == "1"
	})).Return(nil).Once()

	gateway.HandleSend(context.Background(), s, SendMessagePayload{ChatRoomID: 5, UserID: 1, Message: "   "})

	require.Equal(t, msgEmptyMessage, errorMessage(t, nextEvent(t, s)))
	publisher.AssertExpectations(t)
}

func TestSendMessageMembershipRevokedMidSession(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s := newTestSession()
	hub.Join(5, s)

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Twice()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	members.On("IsMember", mock.Anything, 9, 1).Return(false, nil).Once()
	messages.On("Insert", mock.Anything, 5, 1, "Alice", "", "first").
		Return(models.ChatMessage{ID: 1, ChatRoomID: 5, Body: "first"}, nil).Once()

	gateway.HandleSend(context.Background(), s, SendMessagePayload{ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: "first"})
	require.Equal(t, EventNewMessage, nextEvent(t, s).Event)

	// Membership is re-validated on every send, not only at join time.
	gateway.HandleSend(context.Background(), s, SendMessagePayload{ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: "second"})
	require.Equal(t, msgNotAMember, errorMessage(t, nextEvent(t, s)))
	messages.AssertNumberOfCalls(t, "Insert", 1)
}

func TestSendMessageStoreFailureAbortsBroadcast(t *testing.T) {
	gateway, hub, rooms, members, messages := newTestGateway()
	s1 := newTestSession()
	s2 := newTestSession()
	hub.Join(5, s1)
	hub.Join(5, s2)

	rooms.On("CommunityForRoom", mock.Anything, 5).Return(9, nil).Once()
	members.On("IsMember", mock.Anything, 9, 1).Return(true, nil).Once()
	messages.On("Insert", mock.Anything, 5, 1, "Alice", "", "hey").
		Return(models.ChatMessage{}, context.DeadlineExceeded).Once()

	gateway.HandleSend(context.Background(), s1, SendMessagePayload{ChatRoomID: 5, UserID: 1, UserName: "Alice", Message: "hey"})

	require.Equal(t, msgStoreUnavailable, errorMessage(t, nextEvent(t, s1)))
	requireNoEvent(t, s2)
}

func TestTypingExcludesSender(t *testing.T) {
	gateway, hub, _, _, _ := newTestGateway()
	s1 := newTestSession()
	s2 := newTestSession()
	hub.Join(5, s1)
	hub.Join(5, s2)

	gateway.HandleTyping(s1, TypingPayload{ChatRoomID: 5, UserName: "Alice"})

	env := nextEvent(t, s2)
	require.Equal(t, EventUserTyping, env.Event)
	var p UserTypingPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.Equal(t, "Alice", p.UserName)
	requireNoEvent(t, s1)

	gateway.HandleStopTyping(s1, StopTypingPayload{ChatRoomID: 5})
	require.Equal(t, EventUserStoppedTyping, nextEvent(t, s2).Event)
	requireNoEvent(t, s1)
}

func TestLeaveRoomIdempotent(t *testing.T) {
	gateway, hub, _, _, _ := newTestGateway()
	s := newTestSession()
	hub.Join(5, s)
	s.trackJoin(5)

	gateway.HandleLeave(s, LeaveRoomPayload{ChatRoomID: 5})
	gateway.HandleLeave(s, LeaveRoomPayload{ChatRoomID: 5})

	require.Equal(t, 0, hub.RoomSize(5))
	require.False(t, s.InRoom(5))
	requireNoEvent(t, s)
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	gateway, hub, _, _, _ := newTestGateway()
	s := newTestSession()
	other := newTestSession()
	hub.Join(5, s)
	hub.Join(6, s)
	hub.Join(5, other)

	gateway.HandleDisconnect(s)

	require.Equal(t, 1, hub.RoomSize(5))
	require.Equal(t, 0, hub.RoomSize(6))
}

func TestDispatchInvalidPayload(t *testing.T) {
	gateway, _, _, _, _ := newTestGateway()
	s := newTestSession()

	gateway.Dispatch(context.Background(), s, Envelope{Event: EventJoinRoom, Data: []byte(`"nope"`)})

	require.Equal(t, msgInvalidPayload, errorMessage(t, nextEvent(t, s)))
}
