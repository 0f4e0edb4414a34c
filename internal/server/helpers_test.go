package server

import (
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/mock"
)

// newTestChatServer creates a new ChatServer instance for testing purposes
func newTestChatServer(t *testing.T, db *database.MockChatRepository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	cs, err := NewChatServer(testutil.TestLogger(t), db, su)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func newTestClient(t *testing.T, cs *ChatServer, userId string) *Client {
	return &Client{
		id:         "c-" + userId,
		chatServer: cs,
		user:       types.User{Id: userId, DisplayName: userId},
		send:       make(chan *protocol.ServerMessage, 32),
		rooms:      make(map[string]*Room),
		log:        testutil.TestLogger(t),
		stop:       make(chan struct{}),
	}
}

func newTestRoom(t *testing.T, cs *ChatServer, room types.Room) *Room {
	r := newRoom(room, cs)
	r.log = testutil.TestLogger(t)
	return r
}

func nextMessage(t *testing.T, c *Client) *protocol.ServerMessage {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timeout: no message queued for client %q", c.id)
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Errorf("expected no message for client %q, got %+v", c.id, msg)
	default:
	}
}

func subscribeMsg(c *Client, id int, roomId string) *ClientMessage {
	msg := &ClientMessage{client: c}
	msg.Id = id
	msg.Subscribe = &protocol.Subscribe{RoomId: roomId}
	return msg
}

func unsubscribeMsg(c *Client, id int, roomId string) *ClientMessage {
	msg := &ClientMessage{client: c}
	msg.Id = id
	msg.Unsubscribe = &protocol.Unsubscribe{RoomId: roomId}
	return msg
}

func trackMsg(c *Client, id int, roomId string, rec types.PresenceRecord) *ClientMessage {
	msg := &ClientMessage{client: c}
	msg.Id = id
	msg.Track = &protocol.Track{RoomId: roomId, Presence: rec}
	return msg
}

func presenceOf(c *Client, typing bool) types.PresenceRecord {
	return types.PresenceRecord{
		UserId:      c.user.Id,
		DisplayName: c.user.DisplayName,
		IsTyping:    typing,
		OnlineAt:    protocol.Now(),
	}
}
