package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"community-chat-service/internal/models"
	"community-chat-service/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CommunityForRoom(ctx context.Context, roomID int) (int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Error(1)
}

func (m *RoomRepositoryMock) CreateOrGetRoom(ctx context.Context, communityID int) (models.ChatRoom, error) {
	args := m.Called(ctx, communityID)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Error(1)
}

type MembershipRepositoryMock struct {
	mock.Mock
}

func (m *MembershipRepositoryMock) IsMember(ctx context.Context, communityID int, userID int) (bool, error) {
	args := m.Called(ctx, communityID, userID)
	return args.Bool(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Insert(ctx context.Context, roomID int, authorID int, authorName, authorAvatar, body string) (models.ChatMessage, error) {
	args := m.Called(ctx, roomID, authorID, authorName, authorAvatar, body)
	var msg models.ChatMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) LastN(ctx context.Context, roomID int, n int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, roomID, n)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MembershipRepository = (*MembershipRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
