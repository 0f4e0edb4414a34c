package server

import "github.com/npezzotti/go-chatsync/internal/protocol"

// ClientMessage is an inbound frame tagged with the connection it arrived on.
type ClientMessage struct {
	protocol.ClientMessage
	client *Client
}

func (m *ClientMessage) GetUserId() string {
	if m.client == nil {
		return ""
	}
	return m.client.user.Id
}
