package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"chat-relay/internal/models"
	"chat-relay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertUserNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.UpsertUser(ctx, "alice", true, "Alice"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := db.UpsertUser(ctx, "alice", false, ""); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	users, err := db.GetAllUsers(ctx)
	if err != nil {
		t.Fatalf("GetAllUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	u := users[0]
	if u.Username != "Alice" {
		t.Errorf("empty name should keep stored name, got %q", u.Username)
	}
	if u.IsOnline {
		t.Error("IsOnline should be updated to false")
	}
	if u.LastSeen.IsZero() {
		t.Error("LastSeen should be set")
	}
}

func TestSetUserOffline(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	db.UpsertUser(ctx, "bob", true, "")
	if err := db.SetUserOffline(ctx, "bob"); err != nil {
		t.Fatalf("SetUserOffline: %v", err)
	}
	// unknown users are not created
	if err := db.SetUserOffline(ctx, "ghost"); err != nil {
		t.Fatalf("SetUserOffline unknown: %v", err)
	}

	users, _ := db.GetAllUsers(ctx)
	if len(users) != 1 || users[0].IsOnline {
		t.Fatalf("users = %+v, want bob offline only", users)
	}
	if users[0].Username != "" {
		t.Errorf("Username = %q, want empty", users[0].Username)
	}
}

func TestInsertMessageValidatesTarget(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	bad := []models.Target{
		{},
		{RecipientID: "carol", RoomID: "lobby"},
	}
	for _, target := range bad {
		if _, err := db.InsertMessage(ctx, "bob", target, "hi"); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("InsertMessage(%+v) err = %v, want ErrInvalidTarget", target, err)
		}
	}
}

func TestQueryDirectBothDirections(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	db.InsertMessage(ctx, "bob", models.DirectTarget("carol"), "one")
	db.InsertMessage(ctx, "carol", models.DirectTarget("bob"), "two")
	db.InsertMessage(ctx, "bob", models.DirectTarget("dave"), "other pair")
	db.InsertMessage(ctx, "bob", models.DirectTarget("carol"), "three")

	msgs, err := db.QueryDirect(ctx, "carol", "bob", 50)
	if err != nil {
		t.Fatalf("QueryDirect: %v", err)
	}
	want := []string{"three", "two", "one"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Body != want[i] {
			t.Errorf("msgs[%d] = %q, want %q (newest first)", i, m.Body, want[i])
		}
		if m.RoomID != "" {
			t.Errorf("direct message has room %q", m.RoomID)
		}
	}
}

func TestQueryRoomLimit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i := 0; i < 120; i++ {
		if _, err := db.InsertMessage(ctx, "alice", models.RoomTarget(models.GlobalRoomID), fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	db.InsertMessage(ctx, "alice", models.RoomTarget("lobby"), "elsewhere")

	msgs, err := db.QueryRoom(ctx, models.GlobalRoomID, 100)
	if err != nil {
		t.Fatalf("QueryRoom: %v", err)
	}
	if len(msgs) != 100 {
		t.Fatalf("got %d messages, want 100", len(msgs))
	}
	if msgs[0].Body != "m119" || msgs[99].Body != "m20" {
		t.Errorf("window = %s..%s, want m119..m20", msgs[0].Body, msgs[99].Body)
	}
	if msgs[0].ID == "" || msgs[0].CreatedAt.IsZero() {
		t.Errorf("message missing id or timestamp: %+v", msgs[0])
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open err = %v, want ErrUnknownDriver", err)
	}
}

func TestSQLiteParams(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ""},
		{"chat.db", "?_journal_mode=WAL&_busy_timeout=5000"},
		{"file:chat.db?cache=shared", "&_journal_mode=WAL&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := sqliteParams(tt.path); got != tt.want {
				t.Errorf("sqliteParams(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestOpenFileDSNWithQueryString(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "chat.db") + "?cache=shared"
	db, err := Open(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("Open(%q): %v", dsn, err)
	}
	defer db.Close()

	if err := db.UpsertUser(context.Background(), "alice", true, "Alice"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
}
