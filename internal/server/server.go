package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	numActiveClients     = "NumActiveClients"
	numActiveRooms       = "NumActiveRooms"
	numMessagesPublished = "NumMessagesPublished"
	numPresenceUpdates   = "NumPresenceUpdates"

	roomLookupTimeout = 5 * time.Second
)

// ErrHubStopped is returned once the hub has shut down.
var ErrHubStopped = errors.New("hub stopped")

// RoomLookup resolves a room id to its stored room.
type RoomLookup interface {
	GetRoom(ctx context.Context, id string) (types.Room, error)
}

type unloadRoomRequest struct {
	roomId string
}

type stopReq struct {
	done chan struct{}
}

// ChatServer routes websocket clients to per room actors and fans out
// inserted messages to them.
type ChatServer struct {
	log            zerolog.Logger
	db             RoomLookup
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.RWMutex
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	joinChan       chan *ClientMessage
	publishChan    chan types.Message
	registerChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger zerolog.Logger, db RoomLookup, su stats.StatsProvider) (*ChatServer, error) {
	if db == nil {
		return nil, errors.New("nil room lookup")
	}

	for _, name := range []string{numActiveClients, numActiveRooms, numMessagesPublished, numPresenceUpdates} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:            logger.With().Str("component", "hub").Logger(),
		db:             db,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		joinChan:       make(chan *ClientMessage, 256),
		publishChan:    make(chan types.Message, 256),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan unloadRoomRequest, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoinRoom(joinMsg)
		case msg := <-cs.publishChan:
			cs.handlePublish(msg)
		case client := <-cs.registerChan:
			cs.log.Debug().Str("client_id", client.id).Str("user_id", client.user.Id).Msg("adding connection")
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Debug().Str("client_id", client.id).Str("user_id", client.user.Id).Msg("removing connection")
			cs.removeClient(client)
		case req := <-cs.unloadRoomChan:
			cs.unloadRoom(req.roomId)
		case req := <-cs.stop:
			cs.log.Info().Msg("shutting down rooms")
			for _, c := range cs.getClients() {
				c.stopClient()
			}
			cs.unloadAllRooms()
			close(cs.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient hands a connected client to the hub.
func (cs *ChatServer) RegisterClient(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

// Publish fans msg out to every client subscribed to its room.
func (cs *ChatServer) Publish(ctx context.Context, msg types.Message) error {
	select {
	case cs.publishChan <- msg:
		return nil
	case <-cs.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("stop hub: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for hub: %w", ctx.Err())
	}
}

func (cs *ChatServer) handleJoinRoom(join *ClientMessage) {
	roomId := join.Subscribe.RoomId
	if room, ok := cs.getRoom(roomId); ok {
		select {
		case room.joinChan <- join:
		default:
			cs.log.Warn().Str("room_id", roomId).Msg("join channel full")
			join.client.queueMessage(protocol.ErrInternalError(join.Id))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), roomLookupTimeout)
	dbRoom, err := cs.db.GetRoom(ctx, roomId)
	cancel()
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			join.client.queueMessage(protocol.ErrRoomNotFound(join.Id))
			return
		}
		cs.log.Error().Err(err).Str("room_id", roomId).Msg("get room")
		join.client.queueMessage(protocol.ErrInternalError(join.Id))
		return
	}

	room := newRoom(dbRoom, cs)
	cs.addRoom(roomId, room)
	room.joinChan <- join

	go room.start()
}

func (cs *ChatServer) handlePublish(msg types.Message) {
	room, ok := cs.getRoom(msg.RoomId)
	if !ok {
		// nobody is listening
		return
	}

	select {
	case room.publishChan <- msg:
	default:
		cs.log.Warn().Str("room_id", msg.RoomId).Str("message_id", msg.Id).Msg("publish channel full")
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr(numActiveClients)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.stats.Decr(numActiveClients)
	}
}

func (cs *ChatServer) getClients() []*Client {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	return clients
}

func (cs *ChatServer) addRoom(id string, r *Room) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	cs.rooms[id] = r
	cs.stats.Incr(numActiveRooms)
}

func (cs *ChatServer) getRoom(id string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[id]
	return r, ok
}

func (cs *ChatServer) removeRoom(id string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if _, ok := cs.rooms[id]; ok {
		delete(cs.rooms, id)
		cs.stats.Decr(numActiveRooms)
	}
}

// unloadRoom stops an idle room. A room with joins still queued is kept,
// since only this loop ever enqueues joins.
func (cs *ChatServer) unloadRoom(roomId string) {
	r, ok := cs.getRoom(roomId)
	if !ok {
		return
	}
	if len(r.joinChan) > 0 {
		cs.log.Debug().Str("room_id", roomId).Msg("room has pending joins, keeping it loaded")
		return
	}

	cs.log.Info().Str("room_id", roomId).Msg("unloading room")
	cs.removeRoom(roomId)

	done := make(chan string, 1)
	r.exit <- exitReq{done: done}
	<-done
}

func (cs *ChatServer) unloadAllRooms() {
	cs.roomsLock.RLock()
	rooms := make(map[string]*Room, len(cs.rooms))
	for id, r := range cs.rooms {
		rooms[id] = r
	}
	cs.roomsLock.RUnlock()

	for id, r := range rooms {
		cs.log.Debug().Str("room_id", id).Msg("shutting down room")
		cs.removeRoom(id)

		done := make(chan string, 1)
		r.exit <- exitReq{done: done}
		<-done
	}
}
