package realtime

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
)

const (
	defaultWriteTimeout = 10 * time.Second
	// fallbackDisplayName labels our own optimistic messages when the profile has no name.
	fallbackDisplayName = "Me"
)

type LoadState int

const (
	LoadIdle LoadState = iota
	Loading
	Loaded
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MessageStore keeps the ordered message log of the active room.
type MessageStore struct {
	log          zerolog.Logger
	store        Store
	onChange     func()
	now          func() time.Time
	newId        func() string
	writeTimeout time.Duration

	logLock    sync.Mutex
	activeRoom string
	gen        uint64
	entries    []types.Message
	state      LoadState
	// written maps a pending entry's temporary id to the id its write was stored under.
	written map[string]string
}

func NewMessageStore(store Store, logger zerolog.Logger, onChange func()) *MessageStore {
	if onChange == nil {
		onChange = func() {}
	}

	return &MessageStore{
		log:          logger.With().Str("component", "messages").Logger(),
		store:        store,
		onChange:     onChange,
		now:          func() time.Time { return time.Now().UTC() },
		newId:        uuid.NewString,
		writeTimeout: defaultWriteTimeout,
		written:      make(map[string]string),
	}
}

// Load makes roomId the active room and replaces its log with the stored
// history. If another room became active before the fetch resolved, the
// result is discarded and ErrRoomChanged is returned.
func (m *MessageStore) Load(ctx context.Context, roomId string) ([]types.Message, error) {
	m.logLock.Lock()
	m.gen++
	gen := m.gen
	m.activeRoom = roomId
	m.entries = nil
	m.state = Loading
	clear(m.written)
	m.logLock.Unlock()
	m.onChange()

	rows, err := m.store.ListMessages(ctx, roomId)

	m.logLock.Lock()
	if m.gen != gen {
		m.logLock.Unlock()
		m.log.Debug().Str("room_id", roomId).Msg("discarding stale load")
		return nil, ErrRoomChanged
	}

	if err != nil {
		m.entries = nil
		m.state = LoadFailed
		m.logLock.Unlock()
		m.onChange()
		m.log.Error().Err(err).Str("room_id", roomId).Msg("load messages")
		return nil, storeUnavailable("load messages", err)
	}

	// events and sends that landed while the fetch was in flight
	live := m.entries

	m.entries = make([]types.Message, 0, len(rows)+len(live))
	for _, row := range rows {
		if row.RoomId != "" && row.RoomId != roomId {
			continue
		}
		row.Pending = false
		m.insertOrdered(row)
	}
	for _, e := range live {
		switch {
		case e.Pending:
			// a pending entry only gives way to the row its own write stored
			if id, ok := m.written[e.Id]; ok && m.indexOf(id) >= 0 {
				delete(m.written, e.Id)
				continue
			}
			m.insertOrdered(e)
		case m.indexOf(e.Id) < 0:
			m.insertOrdered(e)
		}
	}
	m.state = Loaded
	out := slices.Clone(m.entries)
	m.logLock.Unlock()

	m.onChange()
	m.log.Debug().Str("room_id", roomId).Int("messages", len(out)).Msg("loaded messages")
	return out, nil
}

// Send applies an optimistic entry for content and writes it to the store in
// the background. The returned receipt resolves once the write finished.
func (m *MessageStore) Send(ctx context.Context, roomId string, author types.User, content string) (*Receipt, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("message is empty")
	}

	displayName := author.DisplayName
	if displayName == "" {
		displayName = fallbackDisplayName
	}

	pending := types.Message{
		Id:                m.newId(),
		RoomId:            roomId,
		AuthorId:          author.Id,
		AuthorDisplayName: displayName,
		AuthorAvatarUrl:   author.AvatarUrl,
		Content:           content,
		CreatedAt:         m.now(),
		Pending:           true,
	}

	m.logLock.Lock()
	applied := roomId == m.activeRoom
	if applied {
		m.insertOrdered(pending)
	}
	m.logLock.Unlock()
	if applied {
		m.onChange()
	}

	r := &Receipt{Message: pending, done: make(chan struct{})}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.writeTimeout)
	go func() {
		defer cancel()
		m.confirm(writeCtx, r)
	}()

	return r, nil
}

func (m *MessageStore) confirm(ctx context.Context, r *Receipt) {
	defer close(r.done)

	row, err := m.store.CreateMessage(ctx, types.CreateMessageParams{
		RoomId:   r.Message.RoomId,
		AuthorId: r.Message.AuthorId,
		Content:  r.Message.Content,
	})
	if err == nil {
		m.recordWrite(r.Message.Id, row.Id)
		return
	}

	m.log.Error().Err(err).Str("room_id", r.Message.RoomId).Str("message_id", r.Message.Id).Msg("write message")
	r.err = &WriteFailedError{MessageId: r.Message.Id, Reason: err}

	m.logLock.Lock()
	i := m.indexOf(r.Message.Id)
	removed := i >= 0 && m.entries[i].Pending
	if removed {
		m.entries = slices.Delete(m.entries, i, i+1)
	}
	m.logLock.Unlock()
	if removed {
		m.onChange()
	}
}

// recordWrite remembers the stored id of a successful write. If the stored
// row already reached the log through a history load, the pending entry is
// dropped since its confirmation can no longer replace it.
func (m *MessageStore) recordWrite(pendingId, storedId string) {
	if storedId == "" {
		return
	}

	m.logLock.Lock()
	i := m.indexOf(pendingId)
	if i < 0 || !m.entries[i].Pending {
		m.logLock.Unlock()
		return
	}
	if m.indexOf(storedId) < 0 {
		m.written[pendingId] = storedId
		m.logLock.Unlock()
		return
	}
	m.entries = slices.Delete(m.entries, i, i+1)
	m.logLock.Unlock()

	m.onChange()
}

// ReceiveConfirmed applies a stored message delivered by the room channel.
// Replays are ignored, a message matching one of our pending sends replaces
// it in place, anything else is inserted in created_at order. It reports
// whether the log changed.
func (m *MessageStore) ReceiveConfirmed(msg types.Message) bool {
	msg.Pending = false

	m.logLock.Lock()
	if msg.RoomId != m.activeRoom {
		m.logLock.Unlock()
		m.log.Debug().Str("room_id", msg.RoomId).Str("message_id", msg.Id).Msg("dropping message for inactive room")
		return false
	}

	if m.indexOf(msg.Id) >= 0 {
		m.logLock.Unlock()
		return false
	}

	if i := m.indexOfPendingMatch(msg); i >= 0 {
		if msg.AuthorDisplayName == "" {
			msg.AuthorDisplayName = m.entries[i].AuthorDisplayName
		}
		if msg.AuthorAvatarUrl == "" {
			msg.AuthorAvatarUrl = m.entries[i].AuthorAvatarUrl
		}
		delete(m.written, m.entries[i].Id)
		m.entries[i] = msg
	} else {
		m.insertOrdered(msg)
	}
	m.logLock.Unlock()

	m.onChange()
	return true
}

// NeedsHydration reports whether msg would be appended as a new entry
// without the author's display fields.
func (m *MessageStore) NeedsHydration(msg types.Message) bool {
	if msg.AuthorDisplayName != "" {
		return false
	}

	m.logLock.Lock()
	defer m.logLock.Unlock()

	return msg.RoomId == m.activeRoom && m.indexOf(msg.Id) < 0 && m.indexOfPendingMatch(msg) < 0
}

// Messages returns a copy of the active room's log.
func (m *MessageStore) Messages() []types.Message {
	m.logLock.Lock()
	defer m.logLock.Unlock()

	return slices.Clone(m.entries)
}

func (m *MessageStore) ActiveRoom() string {
	m.logLock.Lock()
	defer m.logLock.Unlock()

	return m.activeRoom
}

func (m *MessageStore) LoadState() LoadState {
	m.logLock.Lock()
	defer m.logLock.Unlock()

	return m.state
}

// Reset forgets the active room. In-flight loads resolve as stale.
func (m *MessageStore) Reset() {
	m.logLock.Lock()
	m.gen++
	m.activeRoom = ""
	m.entries = nil
	m.state = LoadIdle
	clear(m.written)
	m.logLock.Unlock()

	m.onChange()
}

// insertOrdered places msg after every entry created at or before it.
func (m *MessageStore) insertOrdered(msg types.Message) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].CreatedAt.After(msg.CreatedAt)
	})
	m.entries = slices.Insert(m.entries, i, msg)
}

func (m *MessageStore) indexOf(id string) int {
	return slices.IndexFunc(m.entries, func(e types.Message) bool { return e.Id == id })
}

// indexOfPendingMatch finds the pending entry msg confirms: the one whose
// write stored msg, else the oldest pending entry with the same author and
// content whose write has not resolved to another row.
func (m *MessageStore) indexOfPendingMatch(msg types.Message) int {
	if msg.Id != "" {
		if i := slices.IndexFunc(m.entries, func(e types.Message) bool {
			return e.Pending && m.written[e.Id] == msg.Id
		}); i >= 0 {
			return i
		}
	}

	return slices.IndexFunc(m.entries, func(e types.Message) bool {
		if !e.Pending || e.AuthorId != msg.AuthorId || e.Content != msg.Content {
			return false
		}
		id, ok := m.written[e.Id]
		return !ok || id == msg.Id
	})
}

// Receipt tracks the durable write of one optimistic message.
type Receipt struct {
	Message types.Message
	done    chan struct{}
	err     error
}

// Done is closed when the write finished.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Err is the outcome of the write. It is only meaningful after Done is closed.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the write finished or ctx is done.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
