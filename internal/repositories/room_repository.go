package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"community-chat-service/internal/models"
)

var ErrRoomNotFound = errors.New("chat room not found")

// RoomRepository resolves chat rooms to their owning community.
type RoomRepository interface {
	CommunityForRoom(ctx context.Context, roomID int) (int, error)
	CreateOrGetRoom(ctx context.Context, communityID int) (models.ChatRoom, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CommunityForRoom returns the community owning the room.
func (r *RoomRepo) CommunityForRoom(ctx context.Context, roomID int) (int, error) {
	var communityID int
	err := r.db.GetContext(ctx, &communityID, `SELECT community_id FROM chat_rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrRoomNotFound
	}
	return communityID, err
}

// CreateOrGetRoom returns the community's room, creating it when the
// platform has not provisioned one yet. Every community has exactly one.
func (r *RoomRepo) CreateOrGetRoom(ctx context.Context, communityID int) (models.ChatRoom, error) {
	var room models.ChatRoom
	query := `SELECT id, community_id, created_at FROM chat_rooms WHERE community_id=$1`
	if err := r.db.GetContext(ctx, &room, query, communityID); err != nil {
		if err != sql.ErrNoRows {
			return models.ChatRoom{}, err
		}
		if err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_rooms (community_id) VALUES ($1)
            ON CONFLICT (community_id) DO UPDATE SET community_id = EXCLUDED.community_id
            RETURNING id, community_id, created_at`, communityID).
			Scan(&room.ID, &room.CommunityID, &room.CreatedAt); err != nil {
			return models.ChatRoom{}, err
		}
	}
	return room, nil
}
