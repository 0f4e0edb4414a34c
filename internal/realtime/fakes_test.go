package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

var (
	alice = types.User{Id: "u-alice", DisplayName: "Alice"}
	bob   = types.User{Id: "u-bob", DisplayName: "Bob"}
)

var errBoom = errors.New("boom")

func at(sec int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, sec, 0, time.UTC)
}

type fakeIdentity struct {
	mu       sync.Mutex
	user     types.User
	signedIn bool
}

func newFakeIdentity(user types.User) *fakeIdentity {
	return &fakeIdentity{user: user, signedIn: true}
}

func (f *fakeIdentity) CurrentUser() (types.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.user, f.signedIn
}

func (f *fakeIdentity) SignOut() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.signedIn = false
	return nil
}

// fakeTransport records channel lifecycle events in the order they happen.
type fakeTransport struct {
	mu       sync.Mutex
	events   []string
	channels []*fakeChannel
	// failFor makes Subscribe fail for the given room ids.
	failFor map[string]error
	// gates blocks Subscribe for a room until the gate is closed.
	gates map[string]chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failFor: make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (t *fakeTransport) Open(roomId string, handlers ChannelHandlers) Channel {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := &fakeChannel{
		transport: t,
		roomId:    roomId,
		handlers:  handlers,
		closed:    make(chan struct{}),
		failWith:  t.failFor[roomId],
		gate:      t.gates[roomId],
	}
	t.channels = append(t.channels, ch)
	t.events = append(t.events, "open:"+roomId)
	return ch
}

func (t *fakeTransport) record(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, event)
}

func (t *fakeTransport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.events...)
}

func (t *fakeTransport) Last() *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

// OpenCount reports how many channels have not been unsubscribed.
func (t *fakeTransport) OpenCount() int {
	t.mu.Lock()
	chans := append([]*fakeChannel(nil), t.channels...)
	t.mu.Unlock()

	n := 0
	for _, ch := range chans {
		if !ch.isClosed() {
			n++
		}
	}
	return n
}

type fakeChannel struct {
	transport *fakeTransport
	roomId    string
	handlers  ChannelHandlers
	failWith  error
	gate      chan struct{}

	mu      sync.Mutex
	tracked []types.PresenceRecord
	closed  chan struct{}
	once    sync.Once
	// onUnsubscribe runs inside Unsubscribe, before the channel is marked closed.
	onUnsubscribe func()
}

func (c *fakeChannel) RoomId() string { return c.roomId }

func (c *fakeChannel) Subscribe(ctx context.Context) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return errors.New("channel closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.transport.record("subscribed:" + c.roomId)
	return c.failWith
}

func (c *fakeChannel) Track(_ context.Context, rec types.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracked = append(c.tracked, rec)
	return nil
}

func (c *fakeChannel) Unsubscribe(context.Context) error {
	c.once.Do(func() {
		if c.onUnsubscribe != nil {
			c.onUnsubscribe()
		}
		close(c.closed)
		c.transport.record("close:" + c.roomId)
	})
	return nil
}

func (c *fakeChannel) Tracked() []types.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]types.PresenceRecord(nil), c.tracked...)
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// deliver pushes an inbound message the way the transport's read loop would.
func (c *fakeChannel) deliver(msg types.Message) {
	c.handlers.OnMessageInserted(msg)
}

func (c *fakeChannel) sync(snapshot types.PresenceSnapshot) {
	c.handlers.OnPresenceSync(snapshot)
}

// drop reports a lost connection the way the transport's read loop would.
func (c *fakeChannel) drop(err error) {
	c.handlers.OnClosed(err)
}
