package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
}

func NewAuthHandlers(authService *auth.Service) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

type IssueTokenRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type IssueTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken mints a connection token for an arbitrary user. It is mounted
// behind the admin middleware.
func (h *AuthHandlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.authService.IssueToken(req.UserID, req.Username)
	if err != nil {
		if errors.Is(err, auth.ErrMissingUserID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("Token issue error: %v", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	logger.Info("Issued token for %s", req.UserID)
	writeJSON(w, http.StatusCreated, IssueTokenResponse{Token: token, ExpiresAt: expiresAt})
}
