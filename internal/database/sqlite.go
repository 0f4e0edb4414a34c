package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/npezzotti/go-chatsync/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type accountRecord struct {
	Id           string `gorm:"primaryKey"`
	Email        string `gorm:"not null;uniqueIndex"`
	DisplayName  string `gorm:"not null"`
	AvatarUrl    string
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

func (accountRecord) TableName() string { return "accounts" }

// roomRecord leaves the parties NULL for public rooms, so the unique pair
// index only constrains private ones.
type roomRecord struct {
	Id        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	IsPrivate bool
	PartyA    *string   `gorm:"uniqueIndex:idx_rooms_parties"`
	PartyB    *string   `gorm:"uniqueIndex:idx_rooms_parties"`
	CreatedAt time.Time `gorm:"index"`
}

func (roomRecord) TableName() string { return "rooms" }

func (r roomRecord) room() types.Room {
	room := types.Room{
		Id:        r.Id,
		Name:      r.Name,
		IsPrivate: r.IsPrivate,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.PartyA != nil {
		room.PartyA = *r.PartyA
	}
	if r.PartyB != nil {
		room.PartyB = *r.PartyB
	}
	return room
}

type messageRecord struct {
	Id        string    `gorm:"primaryKey"`
	RoomId    string    `gorm:"not null;index:idx_messages_room_created,priority:1"`
	AuthorId  string    `gorm:"not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2"`
}

func (messageRecord) TableName() string { return "messages" }

// SQLiteChatRepository stores chat data in an embedded SQLite database.
type SQLiteChatRepository struct {
	db *gorm.DB
}

// NewSQLiteChatRepository opens the database at dsn and migrates the schema.
// dsn is a file path or a sqlite URI such as "file:chat?mode=memory&cache=shared".
func NewSQLiteChatRepository(dsn string) (*SQLiteChatRepository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Exec("PRAGMA foreign_keys=ON;").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := db.AutoMigrate(&accountRecord{}, &roomRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	return &SQLiteChatRepository{db: db}, nil
}

func (s *SQLiteChatRepository) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteChatRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	rec := accountRecord{
		Id:           uuid.NewString(),
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		AvatarUrl:    params.AvatarUrl,
		PasswordHash: params.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, err
	}

	return toAccount(rec), nil
}

func (s *SQLiteChatRepository) GetAccountById(ctx context.Context, id string) (Account, error) {
	var rec accountRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return Account{}, gormError(err)
	}

	return toAccount(rec), nil
}

func (s *SQLiteChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	var rec accountRecord
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&rec).Error; err != nil {
		return Account{}, gormError(err)
	}

	return toAccount(rec), nil
}

func (s *SQLiteChatRepository) ListRooms(ctx context.Context) ([]types.Room, error) {
	var recs []roomRecord
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}

	rooms := make([]types.Room, 0, len(recs))
	for _, rec := range recs {
		rooms = append(rooms, rec.room())
	}

	return rooms, nil
}

func (s *SQLiteChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	var rec roomRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		return types.Room{}, gormError(err)
	}

	return rec.room(), nil
}

func (s *SQLiteChatRepository) CreateRoom(ctx context.Context, params types.CreateRoomParams) (types.Room, error) {
	rec := roomRecord{
		Id:        uuid.NewString(),
		Name:      params.Name,
		IsPrivate: params.IsPrivate,
		CreatedAt: time.Now().UTC(),
	}
	if params.IsPrivate {
		a, b := orderedParties(params.PartyA, params.PartyB)
		rec.PartyA, rec.PartyB = &a, &b
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return types.Room{}, types.ErrDuplicateRoom
		}
		return types.Room{}, err
	}

	return rec.room(), nil
}

func (s *SQLiteChatRepository) messageQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("messages AS m").
		Select("m.id, m.room_id, m.author_id, a.display_name AS author_display_name, " +
			"a.avatar_url AS author_avatar_url, m.content, m.created_at").
		Joins("JOIN accounts a ON a.id = m.author_id")
}

func (s *SQLiteChatRepository) ListMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	msgs := []types.Message{}
	err := s.messageQuery(ctx).
		Where("m.room_id = ?", roomId).
		Order("m.created_at ASC").
		Scan(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	for i := range msgs {
		msgs[i].CreatedAt = msgs[i].CreatedAt.UTC()
	}

	return msgs, nil
}

// CreateMessage inserts a message and returns the bare row.
func (s *SQLiteChatRepository) CreateMessage(ctx context.Context, params types.CreateMessageParams) (types.Message, error) {
	rec := messageRecord{
		Id:        uuid.NewString(),
		RoomId:    params.RoomId,
		AuthorId:  params.AuthorId,
		Content:   params.Content,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.Message{}, err
	}

	return types.Message{
		Id:        rec.Id,
		RoomId:    rec.RoomId,
		AuthorId:  rec.AuthorId,
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *SQLiteChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	var msgs []types.Message
	err := s.messageQuery(ctx).
		Where("m.id = ?", id).
		Limit(1).
		Scan(&msgs).Error
	if err != nil {
		return types.Message{}, err
	}
	if len(msgs) == 0 {
		return types.Message{}, ErrNotFound
	}

	msg := msgs[0]
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func toAccount(rec accountRecord) Account {
	return Account{
		Id:           rec.Id,
		Email:        rec.Email,
		DisplayName:  rec.DisplayName,
		AvatarUrl:    rec.AvatarUrl,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
}

func gormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isDuplicate detects unique constraint violations the dialector did not
// translate to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
