package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

type SubscriptionState int

const (
	StateIdle SubscriptionState = iota
	StateConnecting
	StateConnected
)

func (s SubscriptionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "idle"
	}
}

// SubscriptionHandlers route a live channel's traffic into the session.
type SubscriptionHandlers struct {
	OnMessage   func(types.Message)
	OnPresence  func(types.PresenceSnapshot)
	OnConnected func(ctx context.Context, roomId string, user types.User)
	// OnReleased runs once the released channel can no longer deliver events.
	OnReleased func()
}

// SubscriptionManager owns the single live room channel.
type SubscriptionManager struct {
	log       zerolog.Logger
	transport Transport
	handlers  SubscriptionHandlers

	subLock sync.Mutex
	state   SubscriptionState
	roomId  string
	channel Channel
	gen     uint64
	// live is the generation whose channel may still deliver events, 0 when none.
	live atomic.Uint64
	// presenceLock is held while a presence snapshot is delivered.
	presenceLock sync.RWMutex
}

func NewSubscriptionManager(transport Transport, logger zerolog.Logger, handlers SubscriptionHandlers) *SubscriptionManager {
	if handlers.OnMessage == nil {
		handlers.OnMessage = func(types.Message) {}
	}
	if handlers.OnPresence == nil {
		handlers.OnPresence = func(types.PresenceSnapshot) {}
	}
	if handlers.OnConnected == nil {
		handlers.OnConnected = func(context.Context, string, types.User) {}
	}
	if handlers.OnReleased == nil {
		handlers.OnReleased = func() {}
	}

	return &SubscriptionManager{
		log:       logger.With().Str("component", "subscription").Logger(),
		transport: transport,
		handlers:  handlers,
	}
}

// Activate binds the live channel to roomId. Any existing channel is
// released before the new one is opened.
func (m *SubscriptionManager) Activate(ctx context.Context, roomId string, user types.User) error {
	if user.Id == "" {
		return ErrNoIdentity
	}

	m.subLock.Lock()
	m.releaseLocked(ctx)
	m.gen++
	gen := m.gen

	ch := m.transport.Open(roomId, ChannelHandlers{
		OnMessageInserted: func(msg types.Message) {
			if m.live.Load() != gen || msg.RoomId != roomId {
				return
			}
			m.handlers.OnMessage(msg)
		},
		OnPresenceSync: func(snapshot types.PresenceSnapshot) {
			m.presenceLock.RLock()
			defer m.presenceLock.RUnlock()

			if m.live.Load() != gen {
				return
			}
			m.handlers.OnPresence(snapshot)
		},
		OnClosed: func(err error) {
			m.dropped(gen, err)
		},
	})
	m.channel = ch
	m.roomId = roomId
	m.state = StateConnecting
	m.live.Store(gen)
	m.subLock.Unlock()

	m.log.Debug().Str("room_id", roomId).Msg("subscribing")
	err := ch.Subscribe(ctx)

	m.subLock.Lock()
	if m.gen != gen {
		m.subLock.Unlock()
		m.log.Debug().Str("room_id", roomId).Msg("subscription superseded")
		return ErrRoomChanged
	}

	if err != nil {
		m.releaseLocked(ctx)
		m.subLock.Unlock()
		m.log.Error().Err(err).Str("room_id", roomId).Msg("subscribe")
		return &SubscriptionFailedError{RoomId: roomId, Err: err}
	}

	m.state = StateConnected
	m.subLock.Unlock()

	m.log.Info().Str("room_id", roomId).Msg("subscribed")
	m.handlers.OnConnected(ctx, roomId, user)
	return nil
}

// Release tears down the live channel, if any.
func (m *SubscriptionManager) Release(ctx context.Context) {
	m.subLock.Lock()
	defer m.subLock.Unlock()

	m.releaseLocked(ctx)
}

func (m *SubscriptionManager) releaseLocked(ctx context.Context) {
	m.presenceLock.Lock()
	m.live.Store(0)
	m.presenceLock.Unlock()
	m.gen++
	m.handlers.OnReleased()

	if m.channel != nil {
		if err := m.channel.Unsubscribe(ctx); err != nil {
			m.log.Warn().Err(err).Str("room_id", m.roomId).Msg("unsubscribe")
		} else {
			m.log.Debug().Str("room_id", m.roomId).Msg("unsubscribed")
		}
	}

	m.channel = nil
	m.roomId = ""
	m.state = StateIdle
}

// dropped releases the channel of generation gen after its connection ended.
// A channel that is still connecting reports the failure from Subscribe.
func (m *SubscriptionManager) dropped(gen uint64, err error) {
	m.subLock.Lock()
	defer m.subLock.Unlock()

	if m.gen != gen || m.state != StateConnected {
		return
	}

	m.log.Warn().Err(err).Str("room_id", m.roomId).Msg("channel dropped")
	m.releaseLocked(context.Background())
}

// Track publishes record on the live channel.
func (m *SubscriptionManager) Track(ctx context.Context, record types.PresenceRecord) error {
	m.subLock.Lock()
	ch, state := m.channel, m.state
	m.subLock.Unlock()

	if ch == nil || state != StateConnected {
		return ErrNotConnected
	}

	return ch.Track(ctx, record)
}

func (m *SubscriptionManager) State() SubscriptionState {
	m.subLock.Lock()
	defer m.subLock.Unlock()

	return m.state
}

func (m *SubscriptionManager) RoomId() string {
	m.subLock.Lock()
	defer m.subLock.Unlock()

	return m.roomId
}
