package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/realtime"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const timeFormat = "15:04"

// chatView prints session changes as lines of text. Each confirmed message
// is printed once; pending ones are not printed until the hub echoes them.
type chatView struct {
	out  io.Writer
	self types.User

	lock    sync.Mutex
	room    string
	printed map[string]bool
	typing  string
}

func newChatView(out io.Writer, self types.User) *chatView {
	return &chatView{out: out, self: self, printed: make(map[string]bool)}
}

func (v *chatView) run(ctx context.Context, sess *realtime.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Changes():
			v.render(sess)
		}
	}
}

func (v *chatView) render(sess *realtime.Session) {
	v.lock.Lock()
	defer v.lock.Unlock()

	if room := sess.ActiveRoom(); room != nil && room.Id != v.room {
		v.room = room.Id
		v.printed = make(map[string]bool)
		v.typing = ""
		v.linef("--- %s ---", room.Label(v.self))
	}

	if sess.LoadState() == realtime.LoadFailed {
		v.linef("could not load messages")
	}

	for _, msg := range sess.Messages() {
		if msg.Pending || v.printed[msg.Id] {
			continue
		}
		v.printed[msg.Id] = true
		v.linef("[%s] %s: %s", msg.CreatedAt.Local().Format(timeFormat), authorName(msg), msg.Content)
	}

	typing := typingLine(sess.TypingUsers())
	if typing != v.typing {
		v.typing = typing
		if typing != "" {
			v.linef("%s", typing)
		}
	}
}

func (v *chatView) rooms(rooms []types.Room, active *types.Room) {
	v.lock.Lock()
	defer v.lock.Unlock()

	for _, r := range rooms {
		marker := " "
		if active != nil && active.Id == r.Id {
			marker = "*"
		}
		kind := "#"
		if r.IsPrivate {
			kind = "@"
		}
		v.linef("%s %s%s (%s)", marker, kind, r.Label(v.self), r.Id)
	}
}

func (v *chatView) online(records []types.PresenceRecord) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.linef("%d online", len(records))
	for _, rec := range records {
		v.linef("  %s", rec.DisplayName)
	}
}

func (v *chatView) printf(format string, args ...any) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.linef(format, args...)
}

func (v *chatView) linef(format string, args ...any) {
	fmt.Fprintf(v.out, format+"\n", args...)
}

func authorName(msg types.Message) string {
	if msg.AuthorDisplayName != "" {
		return msg.AuthorDisplayName
	}

	return msg.AuthorId
}

func typingLine(users map[string]string) string {
	if len(users) == 0 {
		return ""
	}

	names := slices.Sorted(maps.Values(users))
	if len(names) == 1 {
		return names[0] + " is typing..."
	}

	return strings.Join(names, ", ") + " are typing..."
}
