package server

import (
	"maps"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	done chan string
}

// Room is the actor for one room channel. It owns the channel's clients and
// its presence map, keyed by user id.
type Room struct {
	id          string
	room        types.Room
	cs          *ChatServer
	joinChan    chan *ClientMessage
	leaveChan   chan *ClientMessage
	trackChan   chan *ClientMessage
	publishChan chan types.Message
	clients     map[*Client]struct{}
	userMap     map[string]map[*Client]struct{}
	clientLock  sync.RWMutex
	presence    types.PresenceSnapshot
	log         zerolog.Logger
	// killTimer unloads the room once it has been empty for idleRoomTimeout
	killTimer *time.Timer
	exit      chan exitReq
}

func newRoom(room types.Room, cs *ChatServer) *Room {
	killTimer := time.NewTimer(idleRoomTimeout)
	killTimer.Stop()

	return &Room{
		id:          room.Id,
		room:        room,
		cs:          cs,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		trackChan:   make(chan *ClientMessage, 256),
		publishChan: make(chan types.Message, 256),
		clients:     make(map[*Client]struct{}),
		userMap:     make(map[string]map[*Client]struct{}),
		presence:    make(types.PresenceSnapshot),
		log:         cs.log.With().Str("room_id", room.Id).Logger(),
		killTimer:   killTimer,
		exit:        make(chan exitReq),
	}
}

func (r *Room) start() {
	r.log.Debug().Msg("starting room")
	if r.killTimer == nil {
		r.killTimer = time.NewTimer(idleRoomTimeout)
		r.killTimer.Stop()
	}

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leave := <-r.leaveChan:
			r.handleLeave(leave)
		case track := <-r.trackChan:
			r.handleTrack(track)
		case msg := <-r.publishChan:
			r.handlePublish(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Debug().Msg("room timed out")
	select {
	case r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.id}:
	default:
		r.log.Warn().Msg("unload channel full, rearming kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Debug().Msg("room is exiting")
	r.killTimer.Stop()

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.id
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if !r.room.VisibleTo(c.user.Id) {
		r.log.Warn().Str("user_id", c.user.Id).Msg("refusing join to private room")
		c.queueMessage(protocol.ErrForbidden(join.Id))
		if r.clientCount() == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	r.addClient(c)
	c.queueMessage(protocol.NoErrOK(join.Id))
	// the joining client needs the current presence before its first track
	c.queueMessage(protocol.PresenceSnapshot(r.id, maps.Clone(r.presence)))
}

func (r *Room) handleLeave(leave *ClientMessage) {
	c := leave.client
	if _, ok := r.getClient(c); !ok {
		if leave.Id != 0 {
			c.queueMessage(protocol.ErrRoomNotFound(leave.Id))
		}
		return
	}

	r.deleteClient(c)
	if leave.Id != 0 {
		c.queueMessage(protocol.NoErrOK(leave.Id))
	}

	// presence lasts as long as the user's last connection in the room
	if !r.hasUser(c.user.Id) {
		if _, ok := r.presence[c.user.Id]; ok {
			delete(r.presence, c.user.Id)
			r.broadcastPresence()
		}
	}
}

func (r *Room) handleTrack(msg *ClientMessage) {
	c := msg.client
	if _, ok := r.getClient(c); !ok {
		c.queueMessage(protocol.ErrRoomNotFound(msg.Id))
		return
	}

	rec := msg.Track.Presence
	if rec.UserId != c.user.Id {
		r.log.Warn().Str("user_id", c.user.Id).Str("presence_user_id", rec.UserId).Msg("refusing presence for another user")
		c.queueMessage(protocol.ErrForbidden(msg.Id))
		return
	}

	r.presence[rec.UserId] = rec
	r.cs.stats.Incr(numPresenceUpdates)
	c.queueMessage(protocol.NoErrOK(msg.Id))
	r.broadcastPresence()
}

func (r *Room) handlePublish(msg types.Message) {
	r.cs.stats.Incr(numMessagesPublished)
	r.broadcast(protocol.MessageInserted(msg))
}

func (r *Room) broadcastPresence() {
	r.broadcast(protocol.PresenceSnapshot(r.id, maps.Clone(r.presence)))
}

func (r *Room) broadcast(msg *protocol.ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		client.queueMessage(msg)
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	return c, ok
}

func (r *Room) deleteClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delete(r.clients, c)
	c.delRoom(r.id)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Debug().Msg("no clients left, starting kill timer")
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) hasUser(userId string) bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.userMap[userId]) > 0
}

func (r *Room) clientCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}
