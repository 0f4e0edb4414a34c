package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const hydrateTimeout = 5 * time.Second

type SessionConfig struct {
	Identity   IdentityProvider
	Store      Store
	Transport  Transport
	Logger     zerolog.Logger
	TypingIdle time.Duration
}

// Session wires the directory, message store, presence tracker and
// subscription manager together for one signed in user.
type Session struct {
	log      zerolog.Logger
	identity IdentityProvider
	store    Store

	directory *Directory
	messages  *MessageStore
	presence  *PresenceTracker
	subs      *SubscriptionManager
	typing    *typingDebouncer

	changes  chan struct{}
	roomLock sync.RWMutex
	active   *types.Room
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		log:      cfg.Logger.With().Str("component", "session").Logger(),
		identity: cfg.Identity,
		store:    cfg.Store,
		changes:  make(chan struct{}, 1),
	}

	s.directory = NewDirectory(cfg.Store, cfg.Logger)
	s.messages = NewMessageStore(cfg.Store, cfg.Logger, s.notify)
	s.subs = NewSubscriptionManager(cfg.Transport, cfg.Logger, SubscriptionHandlers{
		OnMessage:  s.handleMessageInserted,
		OnPresence: s.handlePresenceSync,
		OnConnected: func(ctx context.Context, _ string, user types.User) {
			s.presence.Announce(ctx, user, false)
		},
		OnReleased: func() {
			s.presence.Reset()
		},
	})
	s.presence = NewPresenceTracker(s.subs, cfg.Logger, s.notify)
	s.typing = newTypingDebouncer(cfg.TypingIdle, s.typingIdle)

	return s
}

// Start loads the visible rooms and enters the default one.
func (s *Session) Start(ctx context.Context) error {
	user, ok := s.identity.CurrentUser()
	if !ok {
		return ErrNoIdentity
	}

	rooms, err := s.directory.ListRooms(ctx, user)
	if err != nil {
		return err
	}
	s.notify()

	room, ok := DefaultRoom(rooms)
	if !ok {
		s.log.Info().Msg("no rooms visible yet")
		return nil
	}

	return s.SwitchRoom(ctx, room)
}

// SwitchRoom makes room the active room: the old channel is released, the
// new room's history is loaded and its channel subscribed concurrently.
func (s *Session) SwitchRoom(ctx context.Context, room types.Room) error {
	user, ok := s.identity.CurrentUser()
	if !ok {
		return ErrNoIdentity
	}

	s.roomLock.Lock()
	s.active = &room
	s.roomLock.Unlock()

	s.typing.stop()

	var (
		g               errgroup.Group
		loadErr, subErr error
	)
	g.Go(func() error {
		_, loadErr = s.messages.Load(ctx, room.Id)
		return nil
	})
	g.Go(func() error {
		subErr = s.subs.Activate(ctx, room.Id, user)
		return nil
	})
	_ = g.Wait()

	s.notify()
	return errors.Join(loadErr, subErr)
}

func (s *Session) CreateChannel(ctx context.Context, name string) (types.Room, error) {
	room, err := s.directory.CreateChannel(ctx, name)
	if err != nil {
		return types.Room{}, err
	}

	return room, s.SwitchRoom(ctx, room)
}

// OpenPrivateRoom finds or creates the private room with another user and enters it.
func (s *Session) OpenPrivateRoom(ctx context.Context, otherId, otherName string) (types.Room, error) {
	user, ok := s.identity.CurrentUser()
	if !ok {
		return types.Room{}, ErrNoIdentity
	}

	room, err := s.directory.OpenOrCreatePrivateRoom(ctx, user, otherId, otherName)
	if err != nil {
		return types.Room{}, err
	}

	return room, s.SwitchRoom(ctx, room)
}

// Keystroke announces that the user is typing and rearms the idle timer.
func (s *Session) Keystroke(ctx context.Context) {
	user, ok := s.identity.CurrentUser()
	if !ok || s.ActiveRoom() == nil {
		return
	}

	s.presence.Announce(ctx, user, true)
	s.typing.touch()
}

// Send posts content to the active room. The optimistic entry is visible as
// soon as Send returns; the receipt reports the outcome of the durable write.
func (s *Session) Send(ctx context.Context, content string) (*Receipt, error) {
	user, ok := s.identity.CurrentUser()
	if !ok {
		return nil, ErrNoIdentity
	}
	room := s.ActiveRoom()
	if room == nil {
		return nil, validationError("no active room")
	}

	receipt, err := s.messages.Send(ctx, room.Id, user, content)
	if err != nil {
		return nil, err
	}

	go func() {
		<-receipt.Done()
		if receipt.Err() != nil {
			return
		}
		s.typing.stop()
		s.presence.Announce(context.WithoutCancel(ctx), user, false)
	}()

	return receipt, nil
}

// Logout ends the session: the channel is released and all state dropped.
func (s *Session) Logout(ctx context.Context) error {
	s.typing.stop()
	s.subs.Release(ctx)

	s.roomLock.Lock()
	s.active = nil
	s.roomLock.Unlock()

	s.messages.Reset()
	s.presence.Reset()
	s.directory.Reset()
	s.notify()

	return s.identity.SignOut()
}

// Changes signals, coalesced, that some view of the session changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) ActiveRoom() *types.Room {
	s.roomLock.RLock()
	defer s.roomLock.RUnlock()

	if s.active == nil {
		return nil
	}
	room := *s.active
	return &room
}

func (s *Session) Rooms() []types.Room { return s.directory.Rooms() }

func (s *Session) Directory() *Directory { return s.directory }

func (s *Session) Messages() []types.Message { return s.messages.Messages() }

func (s *Session) LoadState() LoadState { return s.messages.LoadState() }

func (s *Session) OnlineCount() int { return s.presence.OnlineCount() }

func (s *Session) Online() []types.PresenceRecord { return s.presence.Online() }

func (s *Session) SubscriptionState() SubscriptionState { return s.subs.State() }

func (s *Session) TypingUsers() map[string]string {
	user, _ := s.identity.CurrentUser()
	return s.presence.TypingUsers(user.Id)
}

func (s *Session) handleMessageInserted(msg types.Message) {
	if s.messages.NeedsHydration(msg) {
		ctx, cancel := context.WithTimeout(context.Background(), hydrateTimeout)
		full, err := s.store.GetMessage(ctx, msg.Id)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("message_id", msg.Id).Msg("hydrate message")
		} else {
			msg = full
		}
	}

	s.messages.ReceiveConfirmed(msg)
}

func (s *Session) handlePresenceSync(snapshot types.PresenceSnapshot) {
	s.presence.OnPresenceSync(snapshot)
}

func (s *Session) typingIdle() {
	user, ok := s.identity.CurrentUser()
	if !ok {
		return
	}

	s.presence.Announce(context.Background(), user, false)
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
