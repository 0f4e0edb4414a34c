package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096

	// inbound frames per second allowed per connection, with bursts up to frameBurst
	frameRate  = 20
	frameBurst = 40
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        zerolog.Logger
	user       types.User
	send       chan *protocol.ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	limiter    *rate.Limiter
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l zerolog.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = uuid.NewString()
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.With().Str("client_id", id).Str("user_id", user.Id).Logger(),
		user:       user,
		send:       make(chan *protocol.ServerMessage, 256),
		rooms:      make(map[string]*Room),
		limiter:    rate.NewLimiter(rate.Limit(frameRate), frameBurst),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Msg("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg.ClientMessage); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.queueMessage(protocol.ErrInvalidMessage(0))
			continue
		}

		if !c.limiter.Allow() {
			c.queueMessage(protocol.ErrTooManyRequests(msg.Id))
			continue
		}

		if err := msg.Validate(); err != nil {
			c.queueMessage(protocol.ErrBadRequest(msg.Id, err.Error()))
			continue
		}

		msg.client = c
		msg.Timestamp = protocol.Now()

		switch {
		case msg.Subscribe != nil:
			c.joinRoom(&msg)
		case msg.Unsubscribe != nil:
			c.leaveRoom(&msg)
		case msg.Track != nil:
			c.track(&msg)
		}
	}
}

func (c *Client) queueMessage(msg *protocol.ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn().Msg("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *protocol.ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
	}
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.roomsLock.RUnlock()

	for _, room := range rooms {
		leave := &ClientMessage{client: c}
		leave.Unsubscribe = &protocol.Unsubscribe{RoomId: room.id}
		room.leaveChan <- leave
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	if c.getRoom(msg.Subscribe.RoomId) != nil {
		c.queueMessage(protocol.NoErrOK(msg.Id))
		return
	}

	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Warn().Msg("joinChan full")
		c.queueMessage(protocol.ErrInternalError(msg.Id))
	}
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.getRoom(msg.Unsubscribe.RoomId)
	if r == nil {
		c.queueMessage(protocol.ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Warn().Str("room_id", r.id).Msg("leaveChan full")
		c.queueMessage(protocol.ErrInternalError(msg.Id))
	}
}

func (c *Client) track(msg *ClientMessage) {
	r := c.getRoom(msg.Track.RoomId)
	if r == nil {
		c.queueMessage(protocol.ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.trackChan <- msg:
	default:
		c.log.Warn().Str("room_id", r.id).Msg("trackChan full")
		c.queueMessage(protocol.ErrInternalError(msg.Id))
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[id]
}
