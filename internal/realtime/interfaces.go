package realtime

import (
	"context"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Store is the request/response view of the persistent store.
type Store interface {
	ListRooms(ctx context.Context) ([]types.Room, error)
	CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error)
	ListMessages(ctx context.Context, roomId string) ([]types.Message, error)
	CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error)
	GetMessage(ctx context.Context, id string) (types.Message, error)
}

// ChannelHandlers receive the inbound events of one room channel.
type ChannelHandlers struct {
	OnMessageInserted func(types.Message)
	OnPresenceSync    func(types.PresenceSnapshot)
	// OnClosed reports that the channel ended without Unsubscribe, e.g. the
	// connection dropped.
	OnClosed func(error)
}

// Channel is a bidirectional event channel scoped to a single room.
type Channel interface {
	RoomId() string
	// Subscribe blocks until the transport acknowledges the channel or refuses it.
	Subscribe(ctx context.Context) error
	Track(ctx context.Context, record types.PresenceRecord) error
	// Unsubscribe releases the channel. Calling it more than once is a no-op.
	Unsubscribe(ctx context.Context) error
}

// Transport opens room channels. Open must not perform network I/O.
type Transport interface {
	Open(roomId string, handlers ChannelHandlers) Channel
}

// IdentityProvider supplies the signed in user.
type IdentityProvider interface {
	CurrentUser() (types.User, bool)
	SignOut() error
}
