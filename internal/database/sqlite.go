package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id        TEXT PRIMARY KEY,
	username  TEXT,
	is_online BOOLEAN NOT NULL DEFAULT 0,
	last_seen DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT,
	room_id      TEXT,
	body         TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, seq);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, recipient_id, seq);`

// SQLiteDB is the embedded Store used for single-node deployments and tests.
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

var _ Database = (*SQLiteDB)(nil)

func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", path+sqliteParams(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Opened sqlite database %s", path)
	return &SQLiteDB{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// sqliteParams appends WAL and busy-timeout options to a file DSN, keeping
// any query string the caller already supplied.
func sqliteParams(path string) string {
	if path == ":memory:" {
		return ""
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return sep + "_journal_mode=WAL&_busy_timeout=5000"
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) UpsertUser(ctx context.Context, id string, isOnline bool, name string) error {
	query := `
		INSERT INTO users (id, username, is_online, last_seen)
		VALUES (?, NULLIF(?, ''), ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username  = COALESCE(excluded.username, users.username),
			is_online = excluded.is_online,
			last_seen = excluded.last_seen`

	if _, err := s.db.ExecContext(ctx, query, id, name, isOnline, s.now()); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteDB) SetUserOffline(ctx context.Context, id string) error {
	query := `UPDATE users SET is_online = 0, last_seen = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, s.now(), id); err != nil {
		return fmt.Errorf("failed to mark user %s offline: %w", id, err)
	}
	return nil
}

func (s *SQLiteDB) GetAllUsers(ctx context.Context) ([]*models.PersistedUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, COALESCE(username, ''), is_online, last_seen FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.PersistedUser
	for rows.Next() {
		u := &models.PersistedUser{}
		if err := rows.Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteDB) InsertMessage(ctx context.Context, senderID string, target models.Target, body string) (*models.Message, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: target.RecipientID,
		RoomID:      target.RoomID,
		Body:        body,
		CreatedAt:   s.now(),
	}

	query := `
		INSERT INTO messages (id, sender_id, recipient_id, room_id, body, created_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.RecipientID, msg.RoomID, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteDB) QueryDirect(ctx context.Context, userA, userB string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, sender_id, COALESCE(recipient_id, ''), COALESCE(room_id, ''), body, created_at
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?)
		   OR (sender_id = ? AND recipient_id = ?)
		ORDER BY seq DESC
		LIMIT ?`
	return s.queryMessages(ctx, query, userA, userB, userB, userA, limit)
}

func (s *SQLiteDB) QueryRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, sender_id, COALESCE(recipient_id, ''), COALESCE(room_id, ''), body, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY seq DESC
		LIMIT ?`
	return s.queryMessages(ctx, query, roomID, limit)
}

func (s *SQLiteDB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.RoomID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
