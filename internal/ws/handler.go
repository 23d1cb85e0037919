package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"community-chat-service/internal/observability"
)

// Handler upgrades HTTP requests to chat sessions.
type Handler struct {
	hub     *Hub
	gateway *Gateway
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, gateway *Gateway) *Handler {
	return &Handler{hub: hub, gateway: gateway}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs the session until disconnect.
// Identity is carried in event payloads and constrained by the membership
// check on join and send.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("community-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	session := NewSession(conn, info)

	// The request context dies with the HTTP handler; the session outlives it.
	connCtx := context.WithoutCancel(ctx)

	observability.IncWSActive()
	h.publishLifecycleEvent(connCtx, session, "ws_connect", "")
	log.Info().Str("session_id", session.ID).Str("ip", info.IP).Msg("websocket connected")

	go session.WritePump()
	go func() {
		// ReadPump blocks until the transport drops, then the session is
		// removed from every room it had joined.
		session.ReadPump(connCtx, h.gateway.Dispatch)
		h.gateway.HandleDisconnect(session)

		observability.DecWSActive()
		h.publishLifecycleEvent(connCtx, session, "ws_disconnect", "")
		log.Info().
			Str("session_id", session.ID).
			Dur("duration", time.Since(info.ConnectedAt)).
			Msg("websocket disconnected")
	}()
}

func (h *Handler) publishLifecycleEvent(ctx context.Context, s *Session, event, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"session_id":  s.ID,
			"duration_ms": time.Since(s.Info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"device_id": s.Info.DeviceID,
			"ip":        s.Info.IP,
		},
	}

	headers := observability.BuildHeaders(s.Info.RequestID, s.Info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.NewEventEnvelope("ws_events", event, payload), headers)
}
