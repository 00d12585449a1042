package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/blocklist"
	"chat-relay/internal/config"
	"chat-relay/internal/models"
	"chat-relay/internal/ratelimit"
	"chat-relay/internal/registry"
	"chat-relay/internal/router"
	"chat-relay/internal/services"
	"chat-relay/internal/session"
	"chat-relay/internal/testutil"
	ws "chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type testServer struct {
	srv    *httptest.Server
	auth   *auth.Service
	blocks *blocklist.Gate
	hub    *ws.Hub
	store  *testutil.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		JWT:   config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour},
		Admin: config.AdminConfig{User: "admin", PasswordHash: string(hash)},
	}

	authService := auth.NewService(cfg)
	store := testutil.NewMemoryStore()
	blocks := blocklist.NewGate()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), nil)
	reg := registry.New()
	hub := ws.NewHub()

	r := router.NewRouter(blocks, limiter, reg, store, hub, 2000)
	lifecycle := session.NewLifecycle(reg, blocks, store, hub, true)
	chat := services.NewChatService(r, lifecycle, hub)

	m := mux.NewRouter()
	SetupRoutes(m,
		NewWebSocketHandlers(authService, hub, lifecycle, chat, ws.DefaultOptions()),
		NewAuthHandlers(authService),
		NewAdminHandlers(authService, blocks, limiter, lifecycle),
		hub,
	)

	srv := httptest.NewServer(m)
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &testServer{srv: srv, auth: authService, blocks: blocks, hub: hub, store: store}
}

func (ts *testServer) dial(t *testing.T, userID, username string) *websocket.Conn {
	t.Helper()
	token, _, err := ts.auth.IssueToken(userID, username)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) admin(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth("admin", "pw")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type frame struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want models.EventType) frame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if f.Type == want {
			return f
		}
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: status %d", resp.StatusCode)
	}

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=bogus"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial with bogus token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token: response %+v", resp)
	}
}

func TestWebSocketDirectMessage(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.dial(t, "alice", "Alice")
	readUntil(t, alice, models.EventPresenceSnapshot)
	bob := ts.dial(t, "bob", "Bob")
	snap := readUntil(t, bob, models.EventPresenceSnapshot)

	var view models.PresenceView
	if err := json.Unmarshal(snap.Data, &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Online) != 2 {
		t.Errorf("bob's snapshot online = %+v", view.Online)
	}

	joined := readUntil(t, alice, models.EventUserJoined)
	var user models.ClientUser
	json.Unmarshal(joined.Data, &user)
	if user.ID != "bob" {
		t.Errorf("user_joined = %+v", user)
	}

	err := alice.WriteJSON(models.InboundEvent{
		Type:            models.EventDirectMessage,
		RecipientID:     "bob",
		Body:            "hello bob",
		ClientMessageID: "c-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	var delivery models.Delivery
	json.Unmarshal(readUntil(t, bob, models.EventDirectMessage).Data, &delivery)
	if delivery.Body != "hello bob" || delivery.SenderID != "alice" || delivery.SenderUsername != "Alice" {
		t.Errorf("delivery = %+v", delivery)
	}

	var ack models.MessageAck
	json.Unmarshal(readUntil(t, alice, models.EventMessageAck).Data, &ack)
	if ack.ClientMessageID != "c-1" || ack.MessageID != delivery.MessageID {
		t.Errorf("ack = %+v, delivery id %s", ack, delivery.MessageID)
	}
}

func TestWebSocketBlockedUserIsRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.blocks.Block("mallory", "spam")

	conn := ts.dial(t, "mallory", "Mallory")
	var p models.BlockedPayload
	json.Unmarshal(readUntil(t, conn, models.EventBlocked).Data, &p)
	if p.Reason != "spam" {
		t.Errorf("reason = %q", p.Reason)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection stayed open after block")
	}
	if _, ok := ts.store.User("mallory"); ok {
		t.Error("blocked user was persisted")
	}
}

func TestAdminRequiresCredentials(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/admin/blocks")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no credentials: status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/admin/blocks", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d", resp.StatusCode)
	}
}

func TestAdminBlockKicksLiveUser(t *testing.T) {
	ts := newTestServer(t)
	carol := ts.dial(t, "carol", "Carol")
	readUntil(t, carol, models.EventPresenceSnapshot)

	resp := ts.admin(t, http.MethodPut, "/admin/blocks/carol", `{"reason":"abuse"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("block: status %d", resp.StatusCode)
	}
	var br BlockResponse
	json.NewDecoder(resp.Body).Decode(&br)
	if !br.Kicked || br.Entry.UserID != "carol" || br.Entry.Reason != "abuse" {
		t.Errorf("block response = %+v", br)
	}

	var p models.BlockedPayload
	json.Unmarshal(readUntil(t, carol, models.EventBlocked).Data, &p)
	if p.Reason != "abuse" {
		t.Errorf("kick reason = %q", p.Reason)
	}

	resp = ts.admin(t, http.MethodGet, "/admin/blocks", "")
	var entries []blocklist.Entry
	json.NewDecoder(resp.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].UserID != "carol" {
		t.Errorf("blocks = %+v", entries)
	}

	if resp := ts.admin(t, http.MethodDelete, "/admin/blocks/carol", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("unblock: status %d", resp.StatusCode)
	}
	if resp := ts.admin(t, http.MethodDelete, "/admin/blocks/carol", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second unblock: status %d", resp.StatusCode)
	}
}

func TestAdminBlockWithoutBody(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.admin(t, http.MethodPut, "/admin/blocks/dan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var br BlockResponse
	json.NewDecoder(resp.Body).Decode(&br)
	if br.Kicked {
		t.Error("offline user reported as kicked")
	}
	if !ts.blocks.IsBlocked("dan") {
		t.Error("dan not blocked")
	}
}

func TestAdminRateLimits(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.admin(t, http.MethodGet, "/admin/ratelimits/alice", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var status map[models.MessageClass]ratelimit.ClassStatus
	json.NewDecoder(resp.Body).Decode(&status)
	if got := status[models.ClassGlobal]; got.Limit != 10 || got.Count != 0 {
		t.Errorf("global status = %+v", got)
	}

	if resp := ts.admin(t, http.MethodDelete, "/admin/ratelimits/alice?class=bogus", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus class: status %d", resp.StatusCode)
	}
	if resp := ts.admin(t, http.MethodDelete, "/admin/ratelimits/alice?class=global", ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear: status %d", resp.StatusCode)
	}
}

func TestAdminIssuesTokens(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.admin(t, http.MethodPost, "/admin/tokens", `{"userId":"zed","username":"Zed"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out IssueTokenResponse
	json.NewDecoder(resp.Body).Decode(&out)
	id, err := ts.auth.ValidateToken(out.Token)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if id.UserID != "zed" || id.Username != "Zed" {
		t.Errorf("identity = %+v", id)
	}

	if resp := ts.admin(t, http.MethodPost, "/admin/tokens", `{"username":"nobody"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user id: status %d", resp.StatusCode)
	}
}

func TestHealthAndPresence(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "erin", "Erin")
	readUntil(t, conn, models.EventPresenceSnapshot)

	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	if health.Status != "ok" || health.Connections != 1 {
		t.Errorf("health = %+v", health)
	}

	var view models.PresenceView
	json.NewDecoder(ts.admin(t, http.MethodGet, "/admin/presence", "").Body).Decode(&view)
	if len(view.Online) != 1 || view.Online[0].ID != "erin" {
		t.Errorf("presence = %+v", view)
	}
}
