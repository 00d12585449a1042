package handlers

import (
	"context"
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/services"
	"chat-relay/internal/session"
	ws "chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	lifecycle   *session.Lifecycle
	chat        *services.ChatService
	opts        ws.Options
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, hub *ws.Hub, lifecycle *session.Lifecycle, chat *services.ChatService, opts ws.Options) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		lifecycle:   lifecycle,
		chat:        chat,
		opts:        opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	identity, err := h.authService.ValidateToken(tokenStr)
	if err != nil {
		logger.Debug("Rejected websocket token: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, identity.UserID, identity.Username, h.opts)
	h.hub.Attach(client)
	go client.WritePump()

	// the request context ends with the handler; the session outlives it
	ctx := context.Background()
	if err := h.lifecycle.Connect(ctx, client); err != nil {
		logger.Debug("Connection %s for %s not admitted: %v", client.ID(), identity.UserID, err)
		return
	}

	go client.ReadPump(
		func(data []byte) {
			if err := h.chat.HandleFrame(ctx, client, data); err != nil {
				logger.Debug("Frame from %s not handled: %v", identity.UserID, err)
			}
		},
		func() { h.lifecycle.Disconnect(ctx, client) },
	)
}
