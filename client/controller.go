// Package client implements the app-side chat controller: it owns one
// connection to the chat service, exposes join/send/typing intents and
// feeds inbound events to the screen through callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"community-chat-service/internal/models"
	"community-chat-service/internal/ws"
)

const (
	DefaultMaxRetries   = 10
	DefaultRetryDelay   = time.Second
	DefaultTypingExpiry = 3 * time.Second
)

var ErrNotConnected = errors.New("chat: not connected")

// Options configures a Controller.
type Options struct {
	URL string

	// MaxRetries bounds reconnection attempts after a lost connection;
	// RetryDelay is the fixed delay between them.
	MaxRetries   uint64
	RetryDelay   time.Duration
	TypingExpiry time.Duration
}

// Handlers receives inbound events. Nil callbacks are skipped. Callbacks
// run on the controller's read goroutine and must not block.
type Handlers struct {
	// OnHistory delivers the room history received after a join, in
	// chronological order.
	OnHistory func(messages []models.ChatMessage)
	OnMessage func(msg models.ChatMessage)
	// OnTypingStarted fires when someone else starts typing. If no stop
	// signal arrives, OnTypingStopped fires after TypingExpiry; the
	// protocol does not guarantee stop-typing delivery.
	OnTypingStarted func(userName string)
	OnTypingStopped func(userName string)
	// OnError surfaces server-side rejections (unknown room, not a member,
	// empty message). The composed message stays with the caller for retry.
	OnError func(message string)
	// OnConnectionLost is terminal: reconnection attempts are exhausted and
	// the controller is dead. Open a new one to resume.
	OnConnectionLost func(err error)
}

// Controller drives one chat connection, reconnecting with bounded retries
// and re-joining tracked rooms after a reconnect.
type Controller struct {
	opts     Options
	handlers Handlers
	typing   *typingTracker

	mu     sync.Mutex
	conn   *websocket.Conn
	joined map[int]int // room id -> user id, replayed after reconnect
	closed bool
}

// Dial connects to the chat service and starts the read loop. The initial
// connection uses the same bounded retry policy as reconnects.
func Dial(ctx context.Context, opts Options, handlers Handlers) (*Controller, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.TypingExpiry == 0 {
		opts.TypingExpiry = DefaultTypingExpiry
	}

	c := &Controller{
		opts:     opts,
		handlers: handlers,
		joined:   make(map[int]int),
	}
	c.typing = newTypingTracker(opts.TypingExpiry, func(name string) {
		if handlers.OnTypingStopped != nil {
			handlers.OnTypingStopped(name)
		}
	})

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *Controller) connect(ctx context.Context) error {
	dial := func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err != nil {
			log.Debug().Err(err).Str("url", c.opts.URL).Msg("chat dial failed")
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), c.opts.MaxRetries),
		ctx,
	)
	return backoff.Retry(dial, policy)
}

// Join asks to enter a room; history arrives via OnHistory on success. The
// room is tracked so a reconnect re-issues the join.
func (c *Controller) Join(roomID, userID int) error {
	c.mu.Lock()
	c.joined[roomID] = userID
	c.mu.Unlock()
	return c.write(ws.EventJoinRoom, ws.JoinRoomPayload{ChatRoomID: roomID, UserID: userID})
}

// Leave exits a room and stops tracking it.
func (c *Controller) Leave(roomID int) error {
	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()
	return c.write(ws.EventLeaveRoom, ws.LeaveRoomPayload{ChatRoomID: roomID})
}

// Send submits a message. Delivery is confirmed by the echoed new-message
// event; the caller should not render the message before that.
func (c *Controller) Send(roomID, userID int, userName, userImage, body string) error {
	return c.write(ws.EventSendMessage, ws.SendMessagePayload{
		ChatRoomID: roomID,
		UserID:     userID,
		UserName:   userName,
		UserImage:  userImage,
		Message:    body,
	})
}

// Typing signals that the user is composing a message.
func (c *Controller) Typing(roomID int, userName string) error {
	return c.write(ws.EventTyping, ws.TypingPayload{ChatRoomID: roomID, UserName: userName})
}

// StopTyping signals that the user stopped composing.
func (c *Controller) StopTyping(roomID int) error {
	return c.write(ws.EventStopTyping, ws.StopTypingPayload{ChatRoomID: roomID})
}

// Close tears the connection down. No callbacks fire after Close returns
// the read loop.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.typing.stopAll()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Controller) write(event string, payload any) error {
	frame, err := ws.EncodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Controller) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed || conn == nil {
			return
		}

		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.isClosed() {
				return
			}
			log.Warn().Err(err).Msg("chat connection lost, reconnecting")
			if rerr := c.connect(ctx); rerr != nil {
				if c.handlers.OnConnectionLost != nil {
					c.handlers.OnConnectionLost(rerr)
				}
				return
			}
			c.rejoin()
			continue
		}

		c.dispatch(env)
	}
}

// rejoin replays the join for every tracked room on the fresh connection.
func (c *Controller) rejoin() {
	c.mu.Lock()
	rooms := make(map[int]int, len(c.joined))
	for roomID, userID := range c.joined {
		rooms[roomID] = userID
	}
	c.mu.Unlock()

	for roomID, userID := range rooms {
		if err := c.write(ws.EventJoinRoom, ws.JoinRoomPayload{ChatRoomID: roomID, UserID: userID}); err != nil {
			log.Warn().Err(err).Int("room_id", roomID).Msg("rejoin failed")
		}
	}
}

func (c *Controller) dispatch(env ws.Envelope) {
	switch env.Event {
	case ws.EventMessagesLoaded:
		var msgs []models.ChatMessage
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			return
		}
		if c.handlers.OnHistory != nil {
			c.handlers.OnHistory(msgs)
		}
	case ws.EventNewMessage:
		var msg models.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg)
		}
	case ws.EventUserTyping:
		var p ws.UserTypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		c.typing.touch(p.UserName)
		if c.handlers.OnTypingStarted != nil {
			c.handlers.OnTypingStarted(p.UserName)
		}
	case ws.EventUserStoppedTyping:
		for _, name := range c.typing.stopAll() {
			if c.handlers.OnTypingStopped != nil {
				c.handlers.OnTypingStopped(name)
			}
		}
	case ws.EventError:
		var p ws.ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(p.Message)
		}
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
