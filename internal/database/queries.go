package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	messageColumns = "m.id, m.room_id, m.author_id, a.display_name, a.avatar_url, m.content, m.created_at"
	roomColumns    = "id, name, is_private, party_a, party_b, created_at"
)

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (id, email, display_name, avatar_url, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, email, display_name, avatar_url, password_hash, created_at",
		uuid.NewString(),
		params.Email,
		params.DisplayName,
		params.AvatarUrl,
		params.PasswordHash,
		time.Now().UTC(),
	)

	a, err := scanAccount(row)
	if isUniqueViolation(err) {
		return Account{}, ErrDuplicateAccount
	}

	return a, pgError(err)
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id string) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, display_name, avatar_url, password_hash, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	a, err := scanAccount(row)
	return a, pgError(err)
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, email, display_name, avatar_url, password_hash, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	a, err := scanAccount(row)
	return a, pgError(err)
}

func (db *PgChatRepository) ListRooms(ctx context.Context) ([]types.Room, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+roomColumns+" FROM rooms ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []types.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}

	return rooms, rows.Err()
}

func (db *PgChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1", id)

	r, err := scanRoom(row)
	return r, pgError(err)
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	var partyA, partyB string
	if params.IsPrivate {
		partyA, partyB = orderedParties(params.PartyA, params.PartyB)
	}

	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO rooms (id, name, is_private, party_a, party_b, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+roomColumns,
		uuid.NewString(),
		params.Name,
		params.IsPrivate,
		nullable(partyA),
		nullable(partyB),
		time.Now().UTC(),
	)

	r, err := scanRoom(row)
	if isUniqueViolation(err) {
		return types.Room{}, types.ErrDuplicateRoom
	}

	return r, pgError(err)
}

func (db *PgChatRepository) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.author_id "+
			"WHERE m.room_id = $1 ORDER BY m.created_at ASC",
		roomId,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []types.Message{}
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(
			&m.Id,
			&m.RoomId,
			&m.AuthorId,
			&m.AuthorDisplayName,
			&m.AuthorAvatarUrl,
			&m.Content,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

// CreateMessage inserts a message and returns the bare row, without the
// author's display fields.
func (db *PgChatRepository) CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO messages (id, room_id, author_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, room_id, author_id, content, created_at",
		uuid.NewString(),
		params.RoomId,
		params.AuthorId,
		params.Content,
		time.Now().UTC(),
	)

	var m types.Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.AuthorId,
		&m.Content,
		&m.CreatedAt,
	)

	return m, pgError(err)
}

func (db *PgChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m "+
			"JOIN accounts a ON a.id = m.author_id "+
			"WHERE m.id = $1 LIMIT 1",
		id,
	)

	var m types.Message
	err := row.Scan(
		&m.Id,
		&m.RoomId,
		&m.AuthorId,
		&m.AuthorDisplayName,
		&m.AuthorAvatarUrl,
		&m.Content,
		&m.CreatedAt,
	)

	return m, pgError(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Email,
		&a.DisplayName,
		&a.AvatarUrl,
		&a.PasswordHash,
		&a.CreatedAt,
	)

	return a, err
}

func scanRoom(row scanner) (types.Room, error) {
	var (
		r              types.Room
		partyA, partyB sql.NullString
	)
	err := row.Scan(
		&r.Id,
		&r.Name,
		&r.IsPrivate,
		&partyA,
		&partyB,
		&r.CreatedAt,
	)
	r.PartyA = partyA.String
	r.PartyB = partyB.String

	return r, err
}
