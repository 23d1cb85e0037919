package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"community-chat-service/internal/models"
	"community-chat-service/internal/repositories"
)

const defaultHistoryLimit = 50

// RoomHandler serves the REST side of the chat subsystem: room
// provisioning and message history for the screen's initial render.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	members  repositories.MembershipRepository
	messages repositories.MessageRepository
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, members repositories.MembershipRepository, messages repositories.MessageRepository) *RoomHandler {
	return &RoomHandler{rooms: rooms, members: members, messages: messages}
}

// EnsureRoom returns the community's chat room, creating it lazily. Called
// by the platform when a community screen is opened for the first time.
func (h *RoomHandler) EnsureRoom(c *gin.Context) {
	communityID, err := strconv.Atoi(c.Param("community_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid community id"})
		return
	}

	room, err := h.rooms.CreateOrGetRoom(c.Request.Context(), communityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not provision chat room"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// GetRoomMessages returns the most recent messages of a room in
// chronological order, gated on community membership.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID, err := strconv.Atoi(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	communityID, err := h.rooms.CommunityForRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve room"})
		return
	}

	member, err := h.members.IsMember(c.Request.Context(), communityID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a community member"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	msgs, err := h.messages.LastN(c.Request.Context(), roomID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
