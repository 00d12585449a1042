package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type ConnectionCounter interface {
	Count() int
}

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// SetupRoutes mounts the websocket endpoint, health check and admin API.
func SetupRoutes(r *mux.Router, wsHandlers *WebSocketHandlers, authHandlers *AuthHandlers, admin *AdminHandlers, conns ConnectionCounter) {
	r.HandleFunc("/ws", wsHandlers.HandleWebSocket).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Connections: conns.Count()})
	}).Methods("GET")

	a := r.PathPrefix("/admin").Subrouter()
	a.Use(admin.RequireAdmin)
	a.HandleFunc("/tokens", authHandlers.IssueToken).Methods("POST")
	a.HandleFunc("/blocks", admin.ListBlocks).Methods("GET")
	a.HandleFunc("/blocks/{userID}", admin.BlockUser).Methods("PUT")
	a.HandleFunc("/blocks/{userID}", admin.UnblockUser).Methods("DELETE")
	a.HandleFunc("/ratelimits/{userID}", admin.RateLimitStatus).Methods("GET")
	a.HandleFunc("/ratelimits/{userID}", admin.ClearRateLimit).Methods("DELETE")
	a.HandleFunc("/presence", admin.Presence).Methods("GET")
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
