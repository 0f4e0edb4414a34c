// Package transport carries room channels over the hub's websocket protocol.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/realtime"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrNotSubscribed = errors.New("channel not subscribed")
)

// RefusedError is the hub's negative response to a subscribe request.
type RefusedError struct {
	Code   int
	Reason string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("subscribe refused: %d %s", e.Code, e.Reason)
}

// WebsocketTransport opens one websocket connection per room channel.
type WebsocketTransport struct {
	log    zerolog.Logger
	url    string
	token  func() string
	dialer *websocket.Dialer
}

// New returns a transport dialing wsURL. token is consulted on every dial.
func New(wsURL *url.URL, token func() string, logger zerolog.Logger) *WebsocketTransport {
	if token == nil {
		token = func() string { return "" }
	}

	return &WebsocketTransport{
		log:    logger.With().Str("component", "transport").Logger(),
		url:    wsURL.String(),
		token:  token,
		dialer: websocket.DefaultDialer,
	}
}

func (t *WebsocketTransport) Open(roomId string, handlers realtime.ChannelHandlers) realtime.Channel {
	if handlers.OnMessageInserted == nil {
		handlers.OnMessageInserted = func(types.Message) {}
	}
	if handlers.OnPresenceSync == nil {
		handlers.OnPresenceSync = func(types.PresenceSnapshot) {}
	}
	if handlers.OnClosed == nil {
		handlers.OnClosed = func(error) {}
	}

	return &channel{
		transport: t,
		log:       t.log.With().Str("room_id", roomId).Logger(),
		roomId:    roomId,
		handlers:  handlers,
		pending:   make(map[int]chan protocol.Response),
		closed:    make(chan struct{}),
	}
}

type channel struct {
	transport *WebsocketTransport
	log       zerolog.Logger
	roomId    string
	handlers  realtime.ChannelHandlers

	lock    sync.Mutex
	conn    *websocket.Conn
	nextId  int
	pending map[int]chan protocol.Response

	writeLock sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *channel) RoomId() string {
	return c.roomId
}

func (c *channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Subscribe dials the hub and waits for the subscribe acknowledgement.
// Unsubscribe, a dead connection or ctx all end the wait early.
func (c *channel) Subscribe(ctx context.Context) error {
	if c.isClosed() {
		return ErrChannelClosed
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	header := http.Header{}
	if token := c.transport.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.transport.dialer.DialContext(dialCtx, c.transport.url, header)
	if err != nil {
		if c.isClosed() {
			return ErrChannelClosed
		}
		if resp != nil {
			return fmt.Errorf("dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("dial: %w", err)
	}

	c.lock.Lock()
	if c.isClosed() {
		c.lock.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	c.conn = conn
	c.lock.Unlock()

	id, ack := c.expectResponse()
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readLoop(conn)
	}()

	if err := c.write(protocol.ClientMessage{
		BaseMessage: protocol.BaseMessage{Id: id, Timestamp: protocol.Now()},
		Subscribe:   &protocol.Subscribe{RoomId: c.roomId},
	}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	select {
	case res, ok := <-ack:
		return c.subscribed(res, ok)
	case <-readDone:
		// the read loop resolves or closes every pending ack before exiting
		res, ok := <-ack
		return c.subscribed(res, ok)
	case <-c.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) subscribed(res protocol.Response, ok bool) error {
	if !ok {
		return ErrChannelClosed
	}
	if res.ResponseCode != http.StatusOK {
		return &RefusedError{Code: res.ResponseCode, Reason: res.Error}
	}

	c.log.Debug().Msg("channel subscribed")
	return nil
}

// Track sends record without waiting for the hub's response.
func (c *channel) Track(_ context.Context, record types.PresenceRecord) error {
	c.lock.Lock()
	conn := c.conn
	c.nextId++
	id := c.nextId
	c.lock.Unlock()

	if c.isClosed() {
		return ErrChannelClosed
	}
	if conn == nil {
		return ErrNotSubscribed
	}

	return c.write(protocol.ClientMessage{
		BaseMessage: protocol.BaseMessage{Id: id, Timestamp: protocol.Now()},
		Track:       &protocol.Track{RoomId: c.roomId, Presence: record},
	})
}

// Unsubscribe leaves the room and closes the connection. Later calls do nothing.
func (c *channel) Unsubscribe(_ context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.lock.Lock()
		close(c.closed)
		conn := c.conn
		c.lock.Unlock()

		if conn == nil {
			return
		}

		if werr := c.write(protocol.ClientMessage{
			BaseMessage: protocol.BaseMessage{Timestamp: protocol.Now()},
			Unsubscribe: &protocol.Unsubscribe{RoomId: c.roomId},
		}); werr != nil {
			c.log.Debug().Err(werr).Msg("send unsubscribe")
		}

		c.writeLock.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeLock.Unlock()

		err = conn.Close()
	})

	return err
}

func (c *channel) expectResponse() (int, chan protocol.Response) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.nextId++
	ch := make(chan protocol.Response, 1)
	c.pending[c.nextId] = ch
	return c.nextId, ch
}

func (c *channel) write(msg protocol.ClientMessage) error {
	c.lock.Lock()
	conn := c.conn
	c.lock.Unlock()
	if conn == nil {
		return ErrNotSubscribed
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readLoop runs until the connection fails. Unless Unsubscribe closed it,
// OnClosed is told after every pending request was failed.
func (c *channel) readLoop(conn *websocket.Conn) {
	for {
		var msg protocol.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.failPending()
			if !c.isClosed() {
				c.log.Warn().Err(err).Msg("channel read")
				c.handlers.OnClosed(err)
			}
			return
		}

		switch {
		case msg.Response != nil:
			c.resolve(msg.Id, *msg.Response)
		case msg.Event != nil:
			c.dispatch(msg.Event)
		}
	}
}

func (c *channel) resolve(id int, res protocol.Response) {
	c.lock.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.lock.Unlock()

	if ok {
		ch <- res
		return
	}

	if res.ResponseCode != http.StatusOK {
		c.log.Debug().Int("id", id).Int("code", res.ResponseCode).Str("error", res.Error).Msg("request rejected")
	}
}

func (c *channel) dispatch(event *protocol.Event) {
	if event.RoomId != "" && event.RoomId != c.roomId {
		return
	}

	switch {
	case event.MessageInserted != nil:
		c.handlers.OnMessageInserted(*event.MessageInserted)
	case event.PresenceSync != nil:
		c.handlers.OnPresenceSync(event.PresenceSync.Presences)
	}
}

func (c *channel) failPending() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
