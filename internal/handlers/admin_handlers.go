package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"chat-relay/internal/auth"
	"chat-relay/internal/blocklist"
	"chat-relay/internal/models"
	"chat-relay/internal/ratelimit"
	"chat-relay/internal/session"
	"chat-relay/pkg/logger"

	"github.com/gorilla/mux"
)

type AdminHandlers struct {
	authService *auth.Service
	blocks      *blocklist.Gate
	limiter     *ratelimit.Limiter
	lifecycle   *session.Lifecycle
}

func NewAdminHandlers(authService *auth.Service, blocks *blocklist.Gate, limiter *ratelimit.Limiter, lifecycle *session.Lifecycle) *AdminHandlers {
	return &AdminHandlers{
		authService: authService,
		blocks:      blocks,
		limiter:     limiter,
		lifecycle:   lifecycle,
	}
}

// RequireAdmin checks basic-auth credentials on every admin route.
func (h *AdminHandlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authService.AdminEnabled() {
			http.Error(w, "admin API disabled", http.StatusNotFound)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !h.authService.CheckAdmin(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="chat-relay admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandlers) ListBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.blocks.List())
}

type BlockRequest struct {
	Reason string `json:"reason"`
}

type BlockResponse struct {
	Entry  blocklist.Entry `json:"entry"`
	Kicked bool            `json:"kicked"`
}

// BlockUser adds the user to the blocklist and disconnects their live
// connection, if any. The body is optional.
func (h *AdminHandlers) BlockUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	entry := h.blocks.Block(userID, req.Reason)
	kicked := h.lifecycle.Kick(userID, entry.Reason)
	logger.Info("Blocked user %s (kicked=%t)", userID, kicked)

	writeJSON(w, http.StatusOK, BlockResponse{Entry: entry, Kicked: kicked})
}

func (h *AdminHandlers) UnblockUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if !h.blocks.Unblock(userID) {
		http.Error(w, "user is not blocked", http.StatusNotFound)
		return
	}
	logger.Info("Unblocked user %s", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	writeJSON(w, http.StatusOK, h.limiter.Status(userID))
}

// ClearRateLimit resets the user's counters, for one class when ?class= is
// given.
func (h *AdminHandlers) ClearRateLimit(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var classes []models.MessageClass
	if raw := r.URL.Query().Get("class"); raw != "" {
		class, err := models.ParseMessageClass(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		classes = append(classes, class)
	}

	h.limiter.Clear(userID, classes...)
	logger.Info("Cleared rate limits for %s %v", userID, classes)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) Presence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.lifecycle.Presence(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}
