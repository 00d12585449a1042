package database

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id        TEXT PRIMARY KEY,
	username  TEXT,
	is_online BOOLEAN NOT NULL DEFAULT false,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	sender_id    TEXT NOT NULL,
	recipient_id TEXT,
	room_id      TEXT,
	body         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages (room_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (sender_id, recipient_id, seq DESC);`

type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ Database = (*PostgresDB)(nil)

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Connected to postgres successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// User Repository Implementation
func (db *PostgresDB) UpsertUser(ctx context.Context, id string, isOnline bool, name string) error {
	query := `
		INSERT INTO users (id, username, is_online, last_seen)
		VALUES ($1, NULLIF($2, ''), $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			username  = COALESCE(EXCLUDED.username, users.username),
			is_online = EXCLUDED.is_online,
			last_seen = EXCLUDED.last_seen`

	if _, err := db.pool.Exec(ctx, query, id, name, isOnline); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", id, err)
	}
	return nil
}

func (db *PostgresDB) SetUserOffline(ctx context.Context, id string) error {
	query := `UPDATE users SET is_online = false, last_seen = NOW() WHERE id = $1`
	if _, err := db.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark user %s offline: %w", id, err)
	}
	return nil
}

func (db *PostgresDB) GetAllUsers(ctx context.Context) ([]*models.PersistedUser, error) {
	query := `SELECT id, COALESCE(username, ''), is_online, last_seen FROM users ORDER BY id`

	rows, err := db.pool.Query(ctx, query)
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

// Message Repository Implementation
func (db *PostgresDB) InsertMessage(ctx context.Context, senderID string, target models.Target, body string) (*models.Message, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (id, sender_id, recipient_id, room_id, body, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: target.RecipientID,
		RoomID:      target.RoomID,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.pool.Exec(ctx, query, msg.ID, msg.SenderID, msg.RecipientID, msg.RoomID, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return msg, nil
}

func (db *PostgresDB) QueryDirect(ctx context.Context, userA, userB string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, sender_id, COALESCE(recipient_id, ''), COALESCE(room_id, ''), body, created_at
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY seq DESC
		LIMIT $3`

	return db.queryMessages(ctx, query, userA, userB, limit)
}

func (db *PostgresDB) QueryRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, sender_id, COALESCE(recipient_id, ''), COALESCE(room_id, ''), body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY seq DESC
		LIMIT $2`

	return db.queryMessages(ctx, query, roomID, limit)
}

func (db *PostgresDB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := db.pool.Query(ctx, query, args...)
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
