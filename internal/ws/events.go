package ws

import "encoding/json"

// Client -> server events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Server -> client events.
const (
	EventMessagesLoaded    = "messages-loaded"
	EventNewMessage        = "new-message"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventError             = "error"
)

// Envelope frames every message on the wire: an event name plus its JSON
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope marshals an event and its payload into a wire frame.
func EncodeEnvelope(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

type JoinRoomPayload struct {
	ChatRoomID int `json:"chatRoomId"`
	UserID     int `json:"userId"`
}

type LeaveRoomPayload struct {
	ChatRoomID int `json:"chatRoomId"`
}

type SendMessagePayload struct {
	ChatRoomID int    `json:"chatRoomId"`
	UserID     int    `json:"userId"`
	UserName   string `json:"userName"`
	UserImage  string `json:"userImage"`
	Message    string `json:"message"`
}

type TypingPayload struct {
	ChatRoomID int    `json:"chatRoomId"`
	UserName   string `json:"userName"`
}

type StopTypingPayload struct {
	ChatRoomID int `json:"chatRoomId"`
}

type UserTypingPayload struct {
	UserName string `json:"userName"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
