package realtime

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Directory holds the rooms visible to the signed in user.
type Directory struct {
	log      zerolog.Logger
	store    Store
	rooms    []types.Room
	roomLock sync.RWMutex
	inflight singleflight.Group
}

func NewDirectory(store Store, logger zerolog.Logger) *Directory {
	return &Directory{
		log:   logger.With().Str("component", "directory").Logger(),
		store: store,
	}
}

// ListRooms fetches every room the user can see, oldest first, and makes it
// the visible set. On failure the previous set is kept.
func (d *Directory) ListRooms(ctx context.Context, user types.User) ([]types.Room, error) {
	all, err := d.store.ListRooms(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("list rooms")
		return nil, storeUnavailable("list rooms", err)
	}

	visible := make([]types.Room, 0, len(all))
	for _, r := range all {
		if r.VisibleTo(user.Id) {
			visible = append(visible, r)
		}
	}
	slices.SortStableFunc(visible, func(a, b types.Room) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	d.roomLock.Lock()
	d.rooms = visible
	d.roomLock.Unlock()

	d.log.Debug().Int("rooms", len(visible)).Msg("loaded rooms")
	return slices.Clone(visible), nil
}

// CreateChannel creates a public room named name.
func (d *Directory) CreateChannel(ctx context.Context, name string) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Room{}, validationError("channel name is empty")
	}

	room, err := d.store.CreateRoom(ctx, types.CreateRoomParams{Name: name})
	if err != nil {
		d.log.Error().Err(err).Str("name", name).Msg("create channel")
		return types.Room{}, storeUnavailable("create channel", err)
	}

	d.add(room)
	d.log.Info().Str("room_id", room.Id).Str("name", room.Name).Msg("created channel")
	return room, nil
}

// OpenOrCreatePrivateRoom returns the private room between user and otherId,
// creating it when the visible set has none.
func (d *Directory) OpenOrCreatePrivateRoom(ctx context.Context, user types.User, otherId, otherName string) (types.Room, error) {
	if strings.TrimSpace(otherId) == "" {
		return types.Room{}, validationError("other user id is empty")
	}
	if otherId == user.Id {
		return types.Room{}, validationError("cannot open a private room with yourself")
	}

	if room, ok := d.findPrivate(user.Id, otherId); ok {
		return room, nil
	}

	v, err, _ := d.inflight.Do(pairKey(user.Id, otherId), func() (any, error) {
		// A caller that lost the race may arrive after the winner stored the room.
		if room, ok := d.findPrivate(user.Id, otherId); ok {
			return room, nil
		}

		room, err := d.store.CreateRoom(ctx, types.CreateRoomParams{
			Name:      types.PrivateRoomName(user.DisplayName, otherName),
			IsPrivate: true,
			PartyA:    user.Id,
			PartyB:    otherId,
		})
		if errors.Is(err, types.ErrDuplicateRoom) {
			d.log.Debug().Str("other_id", otherId).Msg("private room already exists, reloading rooms")
			if _, lerr := d.ListRooms(ctx, user); lerr != nil {
				return types.Room{}, lerr
			}
			if room, ok := d.findPrivate(user.Id, otherId); ok {
				return room, nil
			}
		}
		if err != nil {
			d.log.Error().Err(err).Str("other_id", otherId).Msg("create private room")
			return types.Room{}, storeUnavailable("create private room", err)
		}

		d.add(room)
		d.log.Info().Str("room_id", room.Id).Str("other_id", otherId).Msg("created private room")
		return room, nil
	})
	if err != nil {
		return types.Room{}, err
	}

	return v.(types.Room), nil
}

// Rooms returns a copy of the visible set.
func (d *Directory) Rooms() []types.Room {
	d.roomLock.RLock()
	defer d.roomLock.RUnlock()

	return slices.Clone(d.rooms)
}

func (d *Directory) Channels() []types.Room {
	return filterRooms(d.Rooms(), func(r types.Room) bool { return !r.IsPrivate })
}

func (d *Directory) PrivateRooms() []types.Room {
	return filterRooms(d.Rooms(), func(r types.Room) bool { return r.IsPrivate })
}

// HasNoChannels reports whether there is no public room to fall back to.
func (d *Directory) HasNoChannels() bool {
	return len(d.Channels()) == 0
}

func (d *Directory) Reset() {
	d.roomLock.Lock()
	defer d.roomLock.Unlock()

	d.rooms = nil
}

func (d *Directory) add(room types.Room) {
	d.roomLock.Lock()
	defer d.roomLock.Unlock()

	if slices.ContainsFunc(d.rooms, func(r types.Room) bool { return r.Id == room.Id }) {
		return
	}
	d.rooms = append(d.rooms, room)
}

func (d *Directory) findPrivate(a, b string) (types.Room, bool) {
	d.roomLock.RLock()
	defer d.roomLock.RUnlock()

	for _, r := range d.rooms {
		if r.HasParties(a, b) {
			return r, true
		}
	}

	return types.Room{}, false
}

// DefaultRoom picks the first public room, or the first room when all are private.
func DefaultRoom(rooms []types.Room) (types.Room, bool) {
	if len(rooms) == 0 {
		return types.Room{}, false
	}

	for _, r := range rooms {
		if !r.IsPrivate {
			return r, true
		}
	}

	return rooms[0], true
}

func filterRooms(rooms []types.Room, keep func(types.Room) bool) []types.Room {
	out := make([]types.Room, 0, len(rooms))
	for _, r := range rooms {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
