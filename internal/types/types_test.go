package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomHasParties(t *testing.T) {
	tcases := []struct {
		name     string
		room     Room
		a, b     string
		expected bool
	}{
		{
			name:     "same order",
			room:     Room{IsPrivate: true, PartyA: "u1", PartyB: "u2"},
			a:        "u1",
			b:        "u2",
			expected: true,
		},
		{
			name:     "reversed order",
			room:     Room{IsPrivate: true, PartyA: "u1", PartyB: "u2"},
			a:        "u2",
			b:        "u1",
			expected: true,
		},
		{
			name:     "different pair",
			room:     Room{IsPrivate: true, PartyA: "u1", PartyB: "u2"},
			a:        "u1",
			b:        "u3",
			expected: false,
		},
		{
			name:     "public room",
			room:     Room{Name: "general"},
			a:        "",
			b:        "",
			expected: false,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.room.HasParties(tc.a, tc.b), "unexpected HasParties result")
		})
	}
}

func TestRoomVisibleTo(t *testing.T) {
	private := Room{IsPrivate: true, PartyA: "u1", PartyB: "u2"}
	assert.True(t, private.VisibleTo("u1"), "expected party a to see room")
	assert.True(t, private.VisibleTo("u2"), "expected party b to see room")
	assert.False(t, private.VisibleTo("u3"), "expected outsider not to see room")
	assert.True(t, Room{Name: "general"}.VisibleTo("u3"), "expected public room to be visible")
}

func TestRoomLabel(t *testing.T) {
	alice := User{Id: "u1", DisplayName: "Alice"}
	bob := User{Id: "u2", DisplayName: "Bob"}
	private := Room{Name: PrivateRoomName("Alice", "Bob"), IsPrivate: true, PartyA: "u1", PartyB: "u2"}

	assert.Equal(t, "Bob", private.Label(alice), "expected alice to see bob")
	assert.Equal(t, "Alice", private.Label(bob), "expected bob to see alice")
	assert.Equal(t, "general", Room{Name: "general"}.Label(alice), "expected public rooms to keep their name")
}

func TestPresenceRecordValidate(t *testing.T) {
	assert.NoError(t, PresenceRecord{UserId: "u1", DisplayName: "Alice"}.Validate())
	assert.ErrorIs(t, PresenceRecord{DisplayName: "Alice"}.Validate(), ErrMissingUserId)
	assert.ErrorIs(t, PresenceRecord{UserId: "u1", DisplayName: "  "}.Validate(), ErrMissingDisplayName)
}
