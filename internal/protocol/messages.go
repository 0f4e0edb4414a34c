// Package protocol defines the JSON frames exchanged between room channel
// clients and the realtime hub over a websocket.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

var ErrInvalidFrame = errors.New("invalid frame")

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage carries exactly one request from a client.
type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Track       *Track       `json:"track,omitempty"`
}

type Subscribe struct {
	RoomId string `json:"room_id"`
}

type Unsubscribe struct {
	RoomId string `json:"room_id"`
}

type Track struct {
	RoomId   string               `json:"room_id"`
	Presence types.PresenceRecord `json:"presence"`
}

// Validate reports whether m is a well formed request.
func (m *ClientMessage) Validate() error {
	set := 0
	for _, ok := range []bool{m.Subscribe != nil, m.Unsubscribe != nil, m.Track != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: want exactly one request, got %d", ErrInvalidFrame, set)
	}

	if m.RoomId() == "" {
		return fmt.Errorf("%w: missing room_id", ErrInvalidFrame)
	}

	if m.Track != nil {
		if err := m.Track.Presence.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
	}

	return nil
}

func (m *ClientMessage) RoomId() string {
	switch {
	case m.Subscribe != nil:
		return m.Subscribe.RoomId
	case m.Unsubscribe != nil:
		return m.Unsubscribe.RoomId
	case m.Track != nil:
		return m.Track.RoomId
	}
	return ""
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

// Event is a broadcast on a room channel.
type Event struct {
	RoomId          string         `json:"room_id"`
	MessageInserted *types.Message `json:"message_inserted,omitempty"`
	PresenceSync    *PresenceSync  `json:"presence_sync,omitempty"`
}

type PresenceSync struct {
	Presences types.PresenceSnapshot `json:"presences"`
}

func NoErrOK(id int) *ServerMessage {
	return response(id, http.StatusOK, "")
}

func ErrBadRequest(id int, reason string) *ServerMessage {
	return response(id, http.StatusBadRequest, reason)
}

func ErrRoomNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "room not found")
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "forbidden")
}

func ErrTooManyRequests(id int) *ServerMessage {
	return response(id, http.StatusTooManyRequests, "too many requests")
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error")
}

func ErrInvalidMessage(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "invalid message format")
}

func MessageInserted(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event: &Event{
			RoomId:          msg.RoomId,
			MessageInserted: &msg,
		},
	}
}

func PresenceSnapshot(roomId string, snapshot types.PresenceSnapshot) *ServerMessage {
	if snapshot == nil {
		snapshot = types.PresenceSnapshot{}
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event: &Event{
			RoomId:       roomId,
			PresenceSync: &PresenceSync{Presences: snapshot},
		},
	}
}

func response(id, code int, errMsg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
