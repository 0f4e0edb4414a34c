package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepo(t *testing.T) ChatRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:chatsync_%s?mode=memory&cache=shared", uuid.NewString())
	repo, err := NewSQLiteChatRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newPgRepo(t *testing.T) ChatRepository {
	t.Helper()

	dsn := os.Getenv("GOCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOCHAT_TEST_POSTGRES_DSN not set")
	}

	repo, err := NewPgChatRepository(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	_, err = repo.conn.Exec("TRUNCATE messages, rooms, accounts")
	require.NoError(t, err)

	return repo
}

func TestSQLiteChatRepository(t *testing.T) {
	runRepositoryTests(t, newSQLiteRepo)
}

func TestPgChatRepository(t *testing.T) {
	runRepositoryTests(t, newPgRepo)
}

func createAccount(t *testing.T, repo ChatRepository, name string) Account {
	t.Helper()

	a, err := repo.CreateAccount(context.Background(), CreateAccountParams{
		Email:        fmt.Sprintf("%s-%s@example.com", name, uuid.NewString()),
		DisplayName:  name,
		PasswordHash: "hash",
	})
	require.NoError(t, err)

	return a
}

func runRepositoryTests(t *testing.T, newRepo func(t *testing.T) ChatRepository) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("accounts", func(t *testing.T) {
		repo := newRepo(t)
		a := createAccount(t, repo, "Alice")

		byId, err := repo.GetAccountById(ctx, a.Id)
		require.NoError(t, err)
		assert.Equal(t, a.Email, byId.Email)

		byEmail, err := repo.GetAccountByEmail(ctx, a.Email)
		require.NoError(t, err)
		assert.Equal(t, a.Id, byEmail.Id)
		assert.Equal(t, "hash", byEmail.PasswordHash)

		_, err = repo.CreateAccount(ctx, CreateAccountParams{
			Email:        a.Email,
			DisplayName:  "again",
			PasswordHash: "hash",
		})
		assert.ErrorIs(t, err, ErrDuplicateAccount)

		_, err = repo.GetAccountByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rooms", func(t *testing.T) {
		repo := newRepo(t)
		alice := createAccount(t, repo, "Alice")
		bob := createAccount(t, repo, "Bob")

		general, err := repo.CreateRoom(ctx, types.CreateRoomParams{Name: "general"})
		require.NoError(t, err)
		_, err = repo.CreateRoom(ctx, types.CreateRoomParams{Name: "random"})
		require.NoError(t, err, "public rooms do not collide on the party index")

		private, err := repo.CreateRoom(ctx, types.CreateRoomParams{
			Name:      "Bob & Alice",
			IsPrivate: true,
			PartyA:    bob.Id,
			PartyB:    alice.Id,
		})
		require.NoError(t, err)
		assert.True(t, private.HasParties(alice.Id, bob.Id))

		_, err = repo.CreateRoom(ctx, types.CreateRoomParams{
			Name:      "Alice & Bob",
			IsPrivate: true,
			PartyA:    alice.Id,
			PartyB:    bob.Id,
		})
		assert.ErrorIs(t, err, types.ErrDuplicateRoom)

		rooms, err := repo.ListRooms(ctx)
		require.NoError(t, err)
		assert.Len(t, rooms, 3)
		assert.Equal(t, general.Id, rooms[0].Id)

		got, err := repo.GetRoom(ctx, private.Id)
		require.NoError(t, err)
		assert.Equal(t, private.Id, got.Id)
		assert.True(t, got.IsPrivate)

		_, err = repo.GetRoom(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages", func(t *testing.T) {
		repo := newRepo(t)
		alice := createAccount(t, repo, "Alice")
		room, err := repo.CreateRoom(ctx, types.CreateRoomParams{Name: "general"})
		require.NoError(t, err)

		first, err := repo.CreateMessage(ctx, types.CreateMessageParams{RoomId: room.Id, AuthorId: alice.Id, Content: "one"})
		require.NoError(t, err)
		assert.Empty(t, first.AuthorDisplayName)
		time.Sleep(5 * time.Millisecond)
		_, err = repo.CreateMessage(ctx, types.CreateMessageParams{RoomId: room.Id, AuthorId: alice.Id, Content: "two"})
		require.NoError(t, err)

		msgs, err := repo.ListMessages(ctx, room.Id)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "one", msgs[0].Content)
		assert.Equal(t, "two", msgs[1].Content)
		assert.Equal(t, "Alice", msgs[0].AuthorDisplayName)

		full, err := repo.GetMessage(ctx, first.Id)
		require.NoError(t, err)
		assert.Equal(t, "Alice", full.AuthorDisplayName)
		assert.Equal(t, room.Id, full.RoomId)

		_, err = repo.GetMessage(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		empty, err := repo.ListMessages(ctx, "no-such-room")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestOrderedParties(t *testing.T) {
	tests := []struct {
		a, b         string
		wantA, wantB string
	}{
		{"u1", "u2", "u1", "u2"},
		{"u2", "u1", "u1", "u2"},
		{"u1", "u1", "u1", "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			a, b := orderedParties(tt.a, tt.b)
			assert.Equal(t, tt.wantA, a)
			assert.Equal(t, tt.wantB, b)
		})
	}
}

func TestAccountUser(t *testing.T) {
	a := Account{Id: "u1", Email: "a@example.com", DisplayName: "Alice", AvatarUrl: "http://x/a.png", PasswordHash: "h"}

	assert.Equal(t, types.User{Id: "u1", DisplayName: "Alice", AvatarUrl: "http://x/a.png"}, a.User())
}
