package types

import (
	"errors"
	"strings"
	"time"
)

// privateRoomSeparator joins the two display names of a private room's label.
const privateRoomSeparator = " & "

type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarUrl   string `json:"avatar_url,omitempty"`
}

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	PartyA    string    `json:"party_a,omitempty"`
	PartyB    string    `json:"party_b,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasParties reports whether r is a private room between a and b, in either order.
func (r Room) HasParties(a, b string) bool {
	if !r.IsPrivate {
		return false
	}

	return (r.PartyA == a && r.PartyB == b) || (r.PartyA == b && r.PartyB == a)
}

// VisibleTo reports whether the user may see the room.
func (r Room) VisibleTo(userId string) bool {
	return !r.IsPrivate || r.PartyA == userId || r.PartyB == userId
}

// Label returns the name to show viewer for this room. Private rooms are
// labelled with the other party's display name.
func (r Room) Label(viewer User) string {
	if !r.IsPrivate {
		return r.Name
	}

	for _, part := range strings.Split(r.Name, privateRoomSeparator) {
		if part != viewer.DisplayName {
			return part
		}
	}

	return r.Name
}

// PrivateRoomName builds the stored name of a private room.
func PrivateRoomName(self, other string) string {
	return self + privateRoomSeparator + other
}

type Message struct {
	Id                string    `json:"id"`
	RoomId            string    `json:"room_id"`
	AuthorId          string    `json:"author_id"`
	AuthorDisplayName string    `json:"author_display_name,omitempty"`
	AuthorAvatarUrl   string    `json:"author_avatar_url,omitempty"`
	Content           string    `json:"content"`
	CreatedAt         time.Time `json:"created_at"`
	Pending           bool      `json:"pending,omitempty"`
}

type CreateRoomParams struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private,omitempty"`
	PartyA    string `json:"party_a,omitempty"`
	PartyB    string `json:"party_b,omitempty"`
}

type CreateMessageParams struct {
	RoomId   string `json:"room_id"`
	AuthorId string `json:"author_id"`
	Content  string `json:"content"`
}

// ErrDuplicateRoom is reported by stores when a private room for the same
// pair of parties already exists.
var ErrDuplicateRoom = errors.New("private room already exists")

var (
	ErrMissingUserId      = errors.New("presence record missing user_id")
	ErrMissingDisplayName = errors.New("presence record missing display_name")
)

// PresenceRecord is what a participant announces about itself on a room channel.
type PresenceRecord struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
	OnlineAt    time.Time `json:"online_at"`
}

func (p PresenceRecord) Validate() error {
	if strings.TrimSpace(p.UserId) == "" {
		return ErrMissingUserId
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return ErrMissingDisplayName
	}

	return nil
}

// PresenceSnapshot maps user id to the latest record announced by that user.
type PresenceSnapshot map[string]PresenceRecord
