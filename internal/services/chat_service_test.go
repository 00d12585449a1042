package services

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"chat-relay/internal/blocklist"
	"chat-relay/internal/models"
	"chat-relay/internal/ratelimit"
	"chat-relay/internal/registry"
	"chat-relay/internal/router"
	"chat-relay/internal/session"
	"chat-relay/internal/testutil"
	"chat-relay/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	store     *testutil.MemoryStore
	transport *testutil.RecordingTransport
	lifecycle *session.Lifecycle
	service   *ChatService
}

func newFixture() *fixture {
	blocks := blocklist.NewGate()
	reg := registry.New()
	store := testutil.NewMemoryStore()
	transport := testutil.NewRecordingTransport()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), nil)

	r := router.NewRouter(blocks, limiter, reg, store, transport, 2000)
	lifecycle := session.NewLifecycle(reg, blocks, store, transport, true)
	return &fixture{
		store:     store,
		transport: transport,
		lifecycle: lifecycle,
		service:   NewChatService(r, lifecycle, transport),
	}
}

func (f *fixture) connect(t *testing.T, userID string) *testutil.Handle {
	t.Helper()
	h := &testutil.Handle{Conn: "conn-" + userID, User: userID, Name: userID}
	if err := f.lifecycle.Connect(context.Background(), h); err != nil {
		t.Fatalf("Connect(%s): %v", userID, err)
	}
	return h
}

func TestHandleFrameDirectMessage(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.transport.Reset()

	frame := []byte(`{"type":"direct_message","recipientId":"bob","body":"hi","clientMessageId":"m1"}`)
	if err := f.service.HandleFrame(context.Background(), alice, frame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	got := f.transport.EventsFor(bob.Conn, models.EventDirectMessage)
	if len(got) != 1 {
		t.Fatalf("bob expected 1 delivery, got %d", len(got))
	}
	d := got[0].Payload.(models.Delivery)
	if d.Body != "hi" || d.ClientMessageID != "m1" || d.SenderID != "alice" {
		t.Errorf("delivery = %+v", d)
	}
	if acks := f.transport.EventsFor(alice.Conn, models.EventMessageAck); len(acks) != 1 {
		t.Errorf("alice expected 1 ack, got %d", len(acks))
	}
}

func TestHandleFrameMalformed(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice")
	f.transport.Reset()

	if err := f.service.HandleFrame(context.Background(), alice, []byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
	if got := f.transport.EventsFor(alice.Conn, models.EventError); len(got) != 1 {
		t.Errorf("expected 1 error event, got %d", len(got))
	}
}

func TestHandleEventUnknownType(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice")
	f.transport.Reset()

	err := f.service.HandleEvent(context.Background(), alice, &models.InboundEvent{Type: "shout"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
	if got := f.transport.EventsFor(alice.Conn, models.EventError); len(got) != 1 {
		t.Errorf("expected 1 error event, got %d", len(got))
	}
}

func TestRoomFlow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventJoinRoom, RoomID: "go"})
	f.service.HandleEvent(ctx, bob, &models.InboundEvent{Type: models.EventJoinRoom, RoomID: "go"})
	if got := f.transport.EventsFor(alice.Conn, models.EventRoomJoined); len(got) != 1 {
		t.Fatalf("expected room_joined, got %d", len(got))
	}
	f.transport.Reset()

	if err := f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventRoomMessage, RoomID: "go", Body: "gophers"}); err != nil {
		t.Fatalf("room message: %v", err)
	}
	if got := f.transport.EventsFor(bob.Conn, models.EventRoomMessage); len(got) != 1 {
		t.Errorf("bob expected room delivery, got %d", len(got))
	}

	f.service.HandleEvent(ctx, bob, &models.InboundEvent{Type: models.EventLeaveRoom, RoomID: "go"})
	f.transport.Reset()
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventRoomMessage, RoomID: "go", Body: "again"})
	if got := f.transport.EventsFor(bob.Conn, models.EventRoomMessage); len(got) != 0 {
		t.Errorf("bob received after leaving: %d", len(got))
	}

	f.transport.Reset()
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventJoinRoom, RoomID: models.GlobalRoomID})
	if got := f.transport.EventsFor(alice.Conn, models.EventError); len(got) != 1 {
		t.Errorf("joining global explicitly: expected error, got %d", len(got))
	}
}

func TestHistoryRequests(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.connect(t, "alice")
	f.connect(t, "bob")

	for _, body := range []string{"one", "two"} {
		f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventDirectMessage, RecipientID: "bob", Body: body})
	}
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventGlobalMessage, Body: "hello all"})
	f.transport.Reset()

	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventGetDirectHistory, UserID: "bob"})
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventGetGlobalHistory})
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventGetRoomHistory, RoomID: "empty"})

	got := f.transport.EventsFor(alice.Conn, models.EventHistory)
	if len(got) != 3 {
		t.Fatalf("expected 3 history replies, got %d", len(got))
	}

	direct := got[0].Payload.(models.HistoryPayload)
	if direct.Target != models.DirectTarget("bob") || len(direct.Messages) != 2 || direct.Messages[0].Body != "one" {
		t.Errorf("direct history = %+v", direct)
	}
	global := got[1].Payload.(models.HistoryPayload)
	if len(global.Messages) != 1 || global.Messages[0].Body != "hello all" {
		t.Errorf("global history = %+v", global)
	}
	empty := got[2].Payload.(models.HistoryPayload)
	if empty.Messages == nil || len(empty.Messages) != 0 {
		t.Errorf("empty room history = %#v", empty.Messages)
	}

	f.transport.Reset()
	f.service.HandleEvent(ctx, alice, &models.InboundEvent{Type: models.EventGetDirectHistory})
	if got := f.transport.EventsFor(alice.Conn, models.EventError); len(got) != 1 {
		t.Errorf("missing userId: expected error, got %d", len(got))
	}
}

func TestGetPresence(t *testing.T) {
	f := newFixture()
	alice := f.connect(t, "alice")
	f.connect(t, "bob")
	f.transport.Reset()

	f.service.HandleEvent(context.Background(), alice, &models.InboundEvent{Type: models.EventGetPresence})
	got := f.transport.EventsFor(alice.Conn, models.EventPresenceSnapshot)
	if len(got) != 1 {
		t.Fatalf("expected snapshot, got %d", len(got))
	}
	if view := got[0].Payload.(*models.PresenceView); len(view.Online) != 2 {
		t.Errorf("online = %+v", view.Online)
	}
}
