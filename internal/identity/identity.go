package identity

import (
	"sync"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Session holds the signed in user of a client process.
type Session struct {
	lock     sync.RWMutex
	user     types.User
	token    string
	signedIn bool
}

func NewSession(user types.User, token string) *Session {
	return &Session{user: user, token: token, signedIn: user.Id != ""}
}

func (s *Session) CurrentUser() (types.User, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.user, s.signedIn
}

// Token is the bearer token obtained at login, empty once signed out.
func (s *Session) Token() string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.token
}

func (s *Session) SignOut() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.user = types.User{}
	s.token = ""
	s.signedIn = false
	return nil
}
