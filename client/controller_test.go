package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"community-chat-service/internal/models"
	"community-chat-service/internal/ws"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestJoinDeliversHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var env ws.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		require.Equal(t, ws.EventJoinRoom, env.Event)

		frame, err := ws.EncodeEnvelope(ws.EventMessagesLoaded, []models.ChatMessage{
			{ID: 1, ChatRoomID: 5, Body: "hi"},
			{ID: 2, ChatRoomID: 5, Body: "hello"},
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		// Hold the connection open until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	history := make(chan []models.ChatMessage, 1)
	controller, err := Dial(context.Background(), Options{URL: wsURL(server)}, Handlers{
		OnHistory: func(msgs []models.ChatMessage) { history <- msgs },
	})
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, controller.Join(5, 1))

	select {
	case msgs := <-history:
		require.Len(t, msgs, 2)
		require.Equal(t, "hi", msgs[0].Body)
		require.Equal(t, "hello", msgs[1].Body)
	case <-time.After(2 * time.Second):
		t.Fatal("history was not delivered")
	}
}

func TestTypingIndicatorExpiresLocally(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frame, err := ws.EncodeEnvelope(ws.EventUserTyping, ws.UserTypingPayload{UserName: "Alice"})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	started := make(chan string, 1)
	stopped := make(chan string, 1)
	controller, err := Dial(context.Background(), Options{
		URL:          wsURL(server),
		TypingExpiry: 50 * time.Millisecond,
	}, Handlers{
		OnTypingStarted: func(name string) { started <- name },
		OnTypingStopped: func(name string) { stopped <- name },
	})
	require.NoError(t, err)
	defer controller.Close()

	select {
	case name := <-started:
		require.Equal(t, "Alice", name)
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator never arrived")
	}

	// No stop-typing event is sent; the indicator must expire locally.
	select {
	case name := <-stopped:
		require.Equal(t, "Alice", name)
	case <-time.After(2 * time.Second):
		t.Fatal("typing indicator never expired")
	}
}

func TestReconnectReplaysJoins(t *testing.T) {
	joins := make(chan int, 4)
	connections := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		connections++
		first := connections == 1
		for {
			var env ws.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event != ws.EventJoinRoom {
				continue
			}
			var p ws.JoinRoomPayload
			require.NoError(t, json.Unmarshal(env.Data, &p))
			joins <- p.ChatRoomID
			if first {
				// Drop the first connection right after the join to force
				// the controller through its reconnect path.
				return
			}
		}
	}))
	defer server.Close()

	controller, err := Dial(context.Background(), Options{
		URL:        wsURL(server),
		RetryDelay: 20 * time.Millisecond,
	}, Handlers{})
	require.NoError(t, err)
	defer controller.Close()

	require.NoError(t, controller.Join(5, 1))

	for i := 0; i < 2; i++ {
		select {
		case roomID := <-joins:
			require.Equal(t, 5, roomID)
		case <-time.After(5 * time.Second):
			t.Fatalf("join %d was not observed", i+1)
		}
	}
}

func TestConnectionLostAfterRetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conn.Close()
	}))

	lost := make(chan error, 1)
	controller, err := Dial(context.Background(), Options{
		URL:        wsURL(server),
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, Handlers{
		OnConnectionLost: func(err error) { lost <- err },
	})
	require.NoError(t, err)
	defer controller.Close()

	// With the server gone, every reconnection attempt fails.
	server.Close()

	select {
	case err := <-lost:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss was never reported")
	}
}
