// Package testutil provides in-memory collaborators for package tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chat-relay/internal/database"
	"chat-relay/internal/models"

	"github.com/google/uuid"
)

var ErrInjected = errors.New("injected store failure")

// MemoryStore is a database.Database kept in memory. The Fail* switches make
// the matching calls return ErrInjected.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*models.PersistedUser
	messages []*models.Message

	FailInsert   bool
	FailGetUsers bool
	FailUpsert   bool

	InsertCalls int
	UpsertCalls int
}

var _ database.Database = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.PersistedUser)}
}

// PutUser seeds a user record as-is.
func (s *MemoryStore) PutUser(u models.PersistedUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *MemoryStore) User(id string) (models.PersistedUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.PersistedUser{}, false
	}
	return *u, true
}

func (s *MemoryStore) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Message(nil), s.messages...)
}

func (s *MemoryStore) UpsertUser(ctx context.Context, id string, isOnline bool, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls++
	if s.FailUpsert {
		return ErrInjected
	}

	u, ok := s.users[id]
	if !ok {
		u = &models.PersistedUser{ID: id}
		s.users[id] = u
	}
	if name != "" {
		u.Username = name
	}
	u.IsOnline = isOnline
	u.LastSeen = time.Now()
	return nil
}

func (s *MemoryStore) SetUserOffline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.IsOnline = false
		u.LastSeen = time.Now()
	}
	return nil
}

func (s *MemoryStore) GetAllUsers(ctx context.Context) ([]*models.PersistedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGetUsers {
		return nil, ErrInjected
	}

	out := make([]*models.PersistedUser, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, senderID string, target models.Target, body string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if s.FailInsert {
		return nil, ErrInjected
	}
	if (target.RecipientID == "") == (target.RoomID == "") {
		return nil, database.ErrInvalidTarget
	}

	msg := &models.Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: target.RecipientID,
		RoomID:      target.RoomID,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) QueryDirect(ctx context.Context, userA, userB string, limit int) ([]*models.Message, error) {
	return s.query(limit, func(m *models.Message) bool {
		return (m.SenderID == userA && m.RecipientID == userB) ||
			(m.SenderID == userB && m.RecipientID == userA)
	}), nil
}

func (s *MemoryStore) QueryRoom(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	return s.query(limit, func(m *models.Message) bool { return m.RoomID == roomID }), nil
}

// query walks newest to oldest.
func (s *MemoryStore) query(limit int, match func(*models.Message) bool) []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if match(s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }
