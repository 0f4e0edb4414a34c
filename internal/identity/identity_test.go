package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	user := types.User{Id: "u-1", DisplayName: "Alice"}
	s := NewSession(user, "tok")

	got, ok := s.CurrentUser()
	assert.True(t, ok)
	assert.Equal(t, user, got)
	assert.Equal(t, "tok", s.Token())

	require.NoError(t, s.SignOut())
	_, ok = s.CurrentUser()
	assert.False(t, ok)
	assert.Empty(t, s.Token())
}

func TestSessionWithoutUser(t *testing.T) {
	_, ok := NewSession(types.User{}, "").CurrentUser()
	assert.False(t, ok)
}

func TestTokenIssuer(t *testing.T) {
	ti, err := NewTokenIssuer([]byte("secret"), time.Hour)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		tok, err := ti.Issue("u-1")
		require.NoError(t, err)

		userId, err := ti.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, "u-1", userId)
	})

	t.Run("expired", func(t *testing.T) {
		old, err := NewTokenIssuer([]byte("secret"), time.Hour)
		require.NoError(t, err)
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

		tok, err := old.Issue("u-1")
		require.NoError(t, err)

		_, err = ti.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("other"), time.Hour)
		require.NoError(t, err)
		tok, err := other.Issue("u-1")
		require.NoError(t, err)

		_, err = ti.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing user id claim", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			expClaim: time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = ti.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ti.Verify("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewTokenIssuer(t *testing.T) {
	_, err := NewTokenIssuer(nil, time.Hour)
	assert.Error(t, err)

	ti, err := NewTokenIssuer([]byte("s"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, ti.TTL())
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, VerifyPassword(hash, "hunter2"))
	assert.False(t, VerifyPassword(hash, "hunter3"))
}
