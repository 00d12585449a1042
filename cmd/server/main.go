package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/blocklist"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/ratelimit"
	"chat-relay/internal/registry"
	"chat-relay/internal/router"
	"chat-relay/internal/services"
	"chat-relay/internal/session"
	"chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gorilla/mux"
)

const sweepInterval = 5 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Core
	blocks := blocklist.NewGate()
	blocks.Seed(cfg.BlockedUsers, "")
	limiter := ratelimit.New(cfg.RateLimit, nil)
	reg := registry.New()
	hub := websocket.NewHub()

	msgRouter := router.NewRouter(blocks, limiter, reg, db, hub, cfg.MaxMessageLength)
	lifecycle := session.NewLifecycle(reg, blocks, db, hub, cfg.WebSocket.CloseSuperseded)
	chat := services.NewChatService(msgRouter, lifecycle, hub)
	authService := auth.NewService(cfg)

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(authService, hub, lifecycle, chat, websocket.Options{
		SendBuffer:      cfg.WebSocket.SendBuffer,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		FramesPerSecond: cfg.WebSocket.FramesPerSecond,
		FrameBurst:      cfg.WebSocket.FrameBurst,
	})
	authHandlers := handlers.NewAuthHandlers(authService)
	adminHandlers := handlers.NewAdminHandlers(authService, blocks, limiter, lifecycle)

	r := mux.NewRouter()
	handlers.SetupRoutes(r, wsHandlers, authHandlers, adminHandlers, hub)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handlers.CORSMiddleware(r),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go sweepLimiter(ctx, limiter)

	logger.Info("Server started on http://localhost%s (store: %s, %d blocked users)", cfg.Server.Port, cfg.Database.Driver, blocks.Len())
	logger.Info("WebSocket endpoint: ws://localhost%s/ws?token=...", cfg.Server.Port)
	printEndpoints(authService.AdminEnabled())

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
	hub.Shutdown()

	// let read pumps record users offline before the store closes
	deadline := time.Now().Add(time.Second)
	for reg.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// sweepLimiter drops counters that can no longer affect a decision.
func sweepLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	idle := limiter.Config().Retention()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Sweep(idle); n > 0 {
				logger.Debug("Swept %d idle rate limit counters", n)
			}
		}
	}
}

func printEndpoints(adminEnabled bool) {
	logger.Info("API endpoints:")
	logger.Info("   GET    /ws?token=")
	logger.Info("   GET    /health")
	if !adminEnabled {
		logger.Info("   admin API disabled (set ADMIN_PASSWORD_HASH)")
		return
	}
	logger.Info("   POST   /admin/tokens")
	logger.Info("   GET    /admin/blocks")
	logger.Info("   PUT    /admin/blocks/{userID}")
	logger.Info("   DELETE /admin/blocks/{userID}")
	logger.Info("   GET    /admin/ratelimits/{userID}")
	logger.Info("   DELETE /admin/ratelimits/{userID}")
	logger.Info("   GET    /admin/presence")
}
