package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/identity"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/stretchr/testify/require"
)

var (
	alice = database.Account{Id: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = database.Account{Id: "bob", Email: "bob@example.com", DisplayName: "Bob"}

	general   = types.Room{Id: "room-general", Name: "general"}
	aliceBob  = types.Room{Id: "room-ab", Name: "Alice & Bob", IsPrivate: true, PartyA: "alice", PartyB: "bob"}
	bobCarol  = types.Room{Id: "room-bc", Name: "Bob & Carol", IsPrivate: true, PartyA: "bob", PartyB: "carol"}
	testTTL   = time.Hour
	testKey   = []byte("test-signing-key")
	testOrigs = []string{"http://localhost:3000"}
)

func newTestTokens(t *testing.T) *identity.TokenIssuer {
	tokens, err := identity.NewTokenIssuer(testKey, testTTL)
	require.NoError(t, err)
	return tokens
}

// newTestApp wires the API to db and a running hub.
func newTestApp(t *testing.T, db *database.MockChatRepository) *GoChatApp {
	cs, err := server.NewChatServer(testutil.TestLogger(t), db, stats.NewNoopMockStats())
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	return NewGoChatApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, newTestTokens(t), &config.Config{
		ServerAddr:     "localhost:0",
		AllowedOrigins: testOrigs,
	})
}

func jsonBody(t *testing.T, v any) io.Reader {
	if s, ok := v.(string); ok {
		return bytes.NewBufferString(s)
	}

	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// authed signs req as userId with a bearer token.
func authed(t *testing.T, req *http.Request, userId string) *http.Request {
	token, err := newTestTokens(t).Issue(userId)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func serve(app *GoChatApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// findCookie is a helper function to find a cookie by name in the response recorder.
// It returns the cookie if found, or nil if not found.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func newOtherIssuer(t *testing.T) *identity.TokenIssuer {
	tokens, err := identity.NewTokenIssuer([]byte("another-key"), testTTL)
	require.NoError(t, err)
	return tokens
}
