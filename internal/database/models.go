package database

import (
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
)

// Account is a profile row. Only User() is handed to clients.
type Account struct {
	Id           string
	Email        string
	DisplayName  string
	AvatarUrl    string
	PasswordHash string
	CreatedAt    time.Time
}

func (a Account) User() types.User {
	return types.User{
		Id:          a.Id,
		DisplayName: a.DisplayName,
		AvatarUrl:   a.AvatarUrl,
	}
}

type CreateAccountParams struct {
	Email        string
	DisplayName  string
	AvatarUrl    string
	PasswordHash string
}

// orderedParties stores private room parties lowest id first so a unique
// index on (party_a, party_b) covers both orders.
func orderedParties(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
