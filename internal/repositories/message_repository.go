package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"community-chat-service/internal/models"
)

// MessageRepository is the append-only store for chat messages.
type MessageRepository interface {
	Insert(ctx context.Context, roomID int, authorID int, authorName, authorAvatar, body string) (models.ChatMessage, error)
	LastN(ctx context.Context, roomID int, n int) ([]models.ChatMessage, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a message and returns the row with the server-assigned id
// and created_at.
func (r *MessageRepo) Insert(ctx context.Context, roomID int, authorID int, authorName, authorAvatar, body string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages (chat_room_id, author_id, author_name, author_avatar, body)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, chat_room_id, author_id, author_name, author_avatar, body, created_at`,
		roomID, authorID, authorName, authorAvatar, body).
		Scan(&msg.ID, &msg.ChatRoomID, &msg.AuthorID, &msg.AuthorName, &msg.AuthorAvatar, &msg.Body, &msg.CreatedAt)
	return msg, err
}

// LastN returns the n most recent messages for a room, newest first.
func (r *MessageRepo) LastN(ctx context.Context, roomID int, n int) ([]models.ChatMessage, error) {
	query := `SELECT id, chat_room_id, author_id, author_name, author_avatar, body, created_at
        FROM chat_messages
        WHERE chat_room_id=$1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`
	var msgs []models.ChatMessage
	err := r.db.SelectContext(ctx, &msgs, query, roomID, n)
	return msgs, err
}
