package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/protocol"
	"github.com/npezzotti/go-chatsync/internal/realtime"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var general = types.Room{Id: "room-general", Name: "general"}

// recorder collects channel events.
type recorder struct {
	lock      sync.Mutex
	messages  []types.Message
	snapshots []types.PresenceSnapshot
	closed    []error
}

func (r *recorder) handlers() realtime.ChannelHandlers {
	return realtime.ChannelHandlers{
		OnMessageInserted: func(msg types.Message) {
			r.lock.Lock()
			r.messages = append(r.messages, msg)
			r.lock.Unlock()
		},
		OnPresenceSync: func(s types.PresenceSnapshot) {
			r.lock.Lock()
			r.snapshots = append(r.snapshots, s)
			r.lock.Unlock()
		},
		OnClosed: func(err error) {
			r.lock.Lock()
			r.closed = append(r.closed, err)
			r.lock.Unlock()
		},
	}
}

func (r *recorder) Closed() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.closed)
}

func (r *recorder) Messages() []types.Message {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]types.Message(nil), r.messages...)
}

func (r *recorder) LastSnapshot() (types.PresenceSnapshot, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if len(r.snapshots) == 0 {
		return nil, false
	}
	return r.snapshots[len(r.snapshots)-1], true
}

// newHub serves a running hub. The bearer token is taken as the user id.
func newHub(t *testing.T, db *database.MockChatRepository) (*server.ChatServer, *url.URL) {
	cs, err := server.NewChatServer(testutil.TestLogger(t), db, stats.NewNoopMockStats())
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if userId == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := server.NewClient(types.User{Id: userId, DisplayName: userId}, conn, cs, testutil.TestLogger(t))
		cs.RegisterClient(c)
		go c.Write()
		go c.Read()
	}))
	t.Cleanup(srv.Close)

	return cs, wsURL(t, srv)
}

func wsURL(t *testing.T, srv *httptest.Server) *url.URL {
	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	return u
}

func token(id string) func() string {
	return func() string { return id }
}

func TestChannel_SubscribeTrackPublish(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetRoom", mock.Anything, general.Id).Return(general, nil)
	cs, u := newHub(t, db)

	rec := &recorder{}
	ch := New(u, token("alice"), testutil.TestLogger(t)).Open(general.Id, rec.handlers())
	assert.Equal(t, general.Id, ch.RoomId())

	ctx := context.Background()
	require.NoError(t, ch.Subscribe(ctx))

	assert.Eventually(t, func() bool {
		_, ok := rec.LastSnapshot()
		return ok
	}, time.Second, 10*time.Millisecond, "expected join snapshot")

	self := types.PresenceRecord{UserId: "alice", DisplayName: "alice", IsTyping: true, OnlineAt: time.Now().UTC()}
	require.NoError(t, ch.Track(ctx, self))

	assert.Eventually(t, func() bool {
		snap, _ := rec.LastSnapshot()
		return snap["alice"].IsTyping
	}, time.Second, 10*time.Millisecond, "expected own record in snapshot")

	msg := types.Message{Id: "m1", RoomId: general.Id, AuthorId: "bob", Content: "hi"}
	require.NoError(t, cs.Publish(ctx, msg))
	require.NoError(t, cs.Publish(ctx, types.Message{Id: "m2", RoomId: "elsewhere", AuthorId: "bob", Content: "hi"}))

	assert.Eventually(t, func() bool {
		return len(rec.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "m1", rec.Messages()[0].Id)

	require.NoError(t, ch.Unsubscribe(ctx))
	assert.NoError(t, ch.Unsubscribe(ctx), "expected second unsubscribe to be a no-op")
	assert.ErrorIs(t, ch.Track(ctx, self), ErrChannelClosed)
	assert.Never(t, func() bool { return rec.Closed() > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"unsubscribe must not be reported as a dropped connection")
}

func TestChannel_ConnectionDropReported(t *testing.T) {
	// a hub that acknowledges the subscribe and then hangs up
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req protocol.ClientMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteJSON(protocol.NoErrOK(req.Id))
	}))
	t.Cleanup(srv.Close)

	rec := &recorder{}
	ch := New(wsURL(t, srv), token("alice"), testutil.TestLogger(t)).Open(general.Id, rec.handlers())
	t.Cleanup(func() { ch.Unsubscribe(context.Background()) })

	require.NoError(t, ch.Subscribe(context.Background()))

	assert.Eventually(t, func() bool { return rec.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestChannel_SubscribeRefused(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("GetRoom", mock.Anything, "missing").Return(types.Room{}, database.ErrNotFound)
	_, u := newHub(t, db)

	ch := New(u, token("alice"), testutil.TestLogger(t)).Open("missing", realtime.ChannelHandlers{})
	t.Cleanup(func() { ch.Unsubscribe(context.Background()) })

	err := ch.Subscribe(context.Background())
	var refused *RefusedError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, http.StatusNotFound, refused.Code)
}

func TestChannel_DialRejected(t *testing.T) {
	_, u := newHub(t, &database.MockChatRepository{})

	ch := New(u, nil, testutil.TestLogger(t)).Open(general.Id, realtime.ChannelHandlers{})
	err := ch.Subscribe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestChannel_TrackBeforeSubscribe(t *testing.T) {
	u, _ := url.Parse("ws://127.0.0.1:1")
	ch := New(u, token("alice"), testutil.TestLogger(t)).Open(general.Id, realtime.ChannelHandlers{})

	err := ch.Track(context.Background(), types.PresenceRecord{UserId: "alice", DisplayName: "alice"})
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestChannel_UnsubscribeBeforeSubscribe(t *testing.T) {
	u, _ := url.Parse("ws://127.0.0.1:1")
	ch := New(u, token("alice"), testutil.TestLogger(t)).Open(general.Id, realtime.ChannelHandlers{})

	require.NoError(t, ch.Unsubscribe(context.Background()))
	assert.ErrorIs(t, ch.Subscribe(context.Background()), ErrChannelClosed)
}

func TestChannel_UnsubscribeUnblocksSubscribe(t *testing.T) {
	// a hub that accepts the connection but never answers
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ch := New(wsURL(t, srv), token("alice"), testutil.TestLogger(t)).Open(general.Id, realtime.ChannelHandlers{})

	errCh := make(chan error, 1)
	go func() { errCh <- ch.Subscribe(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.Unsubscribe(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe still blocked after unsubscribe")
	}
}

func TestChannel_SubscribeContextDeadline(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ch := New(wsURL(t, srv), token("alice"), testutil.TestLogger(t)).Open(general.Id, realtime.ChannelHandlers{})
	t.Cleanup(func() { ch.Unsubscribe(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, ch.Subscribe(ctx), context.DeadlineExceeded)
}
