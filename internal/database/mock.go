package database

import (
	"context"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, id string) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) ListRooms(ctx context.Context) ([]types.Room, error) {
	args := m.Called(ctx)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	args := m.Called(ctx, roomId)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}
