package database

import (
	"context"
	"errors"
	"fmt"

	"chat-relay/internal/models"
)

var (
	ErrInvalidTarget = errors.New("message needs exactly one of recipient or room")
	ErrUnknownDriver = errors.New("unknown database driver")
)

type UserRepository interface {
	// UpsertUser inserts or updates by id. An empty name keeps the stored one.
	UpsertUser(ctx context.Context, id string, isOnline bool, name string) error
	SetUserOffline(ctx context.Context, id string) error
	GetAllUsers(ctx context.Context) ([]*models.PersistedUser, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, senderID string, target models.Target, body string) (*models.Message, error)
	// QueryDirect and QueryRoom return at most limit messages, newest first.
	QueryDirect(ctx context.Context, userA, userB string, limit int) ([]*models.Message, error)
	QueryRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
}

type Database interface {
	UserRepository
	MessageRepository
	Close() error
}

func validateTarget(t models.Target) error {
	if (t.RecipientID == "") == (t.RoomID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// Open connects to the backend named by driver ("postgres" or "sqlite") and
// ensures the schema exists.
func Open(ctx context.Context, driver, url string) (Database, error) {
	var (
		db  Database
		err error
	)
	switch driver {
	case "postgres", "postgresql":
		db, err = NewPostgresDB(ctx, url)
	case "sqlite", "sqlite3":
		db, err = NewSQLiteDB(ctx, url)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
