package realtime

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

// Publisher sends our own presence record on the live room channel.
type Publisher interface {
	Track(ctx context.Context, record types.PresenceRecord) error
}

// PresenceTracker mirrors the presence snapshot of the active room.
type PresenceTracker struct {
	log       zerolog.Logger
	publisher Publisher
	onChange  func()
	now       func() time.Time

	presenceLock sync.RWMutex
	entries      types.PresenceSnapshot
}

func NewPresenceTracker(publisher Publisher, logger zerolog.Logger, onChange func()) *PresenceTracker {
	if onChange == nil {
		onChange = func() {}
	}

	return &PresenceTracker{
		log:       logger.With().Str("component", "presence").Logger(),
		publisher: publisher,
		onChange:  onChange,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(types.PresenceSnapshot),
	}
}

// OnPresenceSync replaces the whole presence map with snapshot. Malformed
// records are dropped.
func (p *PresenceTracker) OnPresenceSync(snapshot types.PresenceSnapshot) {
	next := make(types.PresenceSnapshot, len(snapshot))
	for key, rec := range snapshot {
		if err := rec.Validate(); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("dropping malformed presence record")
			continue
		}
		if rec.UserId != key {
			p.log.Warn().Str("key", key).Str("user_id", rec.UserId).Msg("dropping presence record with mismatched key")
			continue
		}
		next[key] = rec
	}

	p.presenceLock.Lock()
	p.entries = next
	p.presenceLock.Unlock()

	p.onChange()
}

// Announce publishes the user's presence with the given typing flag.
// Delivery is best effort.
func (p *PresenceTracker) Announce(ctx context.Context, user types.User, isTyping bool) {
	rec := types.PresenceRecord{
		UserId:      user.Id,
		DisplayName: user.DisplayName,
		IsTyping:    isTyping,
		OnlineAt:    p.now(),
	}
	if rec.DisplayName == "" {
		rec.DisplayName = fallbackDisplayName
	}

	if err := p.publisher.Track(ctx, rec); err != nil {
		p.log.Debug().Err(err).Bool("is_typing", isTyping).Msg("announce presence")
	}
}

// TypingUsers maps user id to display name for everyone typing except selfId.
func (p *PresenceTracker) TypingUsers(selfId string) map[string]string {
	p.presenceLock.RLock()
	defer p.presenceLock.RUnlock()

	typing := make(map[string]string)
	for id, rec := range p.entries {
		if id == selfId || !rec.IsTyping {
			continue
		}
		typing[id] = rec.DisplayName
	}

	return typing
}

func (p *PresenceTracker) OnlineCount() int {
	p.presenceLock.RLock()
	defer p.presenceLock.RUnlock()

	return len(p.entries)
}

// Online lists the present users ordered by display name.
func (p *PresenceTracker) Online() []types.PresenceRecord {
	p.presenceLock.RLock()
	online := slices.Collect(maps.Values(p.entries))
	p.presenceLock.RUnlock()

	slices.SortFunc(online, func(a, b types.PresenceRecord) int {
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(a.UserId, b.UserId)
	})

	return online
}

func (p *PresenceTracker) Reset() {
	p.presenceLock.Lock()
	p.entries = make(types.PresenceSnapshot)
	p.presenceLock.Unlock()

	p.onChange()
}
