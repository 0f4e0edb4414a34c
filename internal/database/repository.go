package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-chatsync/internal/types"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateAccount = errors.New("account already exists")
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountById(ctx context.Context, id string) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	ListRooms(ctx context.Context) ([]types.Room, error)
	GetRoom(ctx context.Context, id string) (types.Room, error)
	CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error)
	ListMessages(ctx context.Context, roomId string) ([]types.Message, error)
	CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error)
	GetMessage(ctx context.Context, id string) (types.Message, error)
}
