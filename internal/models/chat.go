package models

import "time"

// ChatRoom is the single chat channel of a community.
type ChatRoom struct {
	ID          int       `db:"id" json:"id"`
	CommunityID int       `db:"community_id" json:"community_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ChatMessage is a message persisted for a room. Rows are immutable once
// written; created_at is assigned by the store and is the authoritative
// ordering key.
type ChatMessage struct {
	ID           int       `db:"id" json:"id"`
	ChatRoomID   int       `db:"chat_room_id" json:"chatRoomId"`
	AuthorID     int       `db:"author_id" json:"userId"`
	AuthorName   string    `db:"author_name" json:"userName"`
	AuthorAvatar string    `db:"author_avatar" json:"userImage,omitempty"`
	Body         string    `db:"body" json:"message"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
