// Package session drives connect and disconnect transitions across the
// registry, the user store and presence broadcasts.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chat-relay/internal/blocklist"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/internal/presence"
	"chat-relay/internal/registry"
	"chat-relay/pkg/logger"
)

var ErrBlocked = errors.New("user is blocked")

type Transport interface {
	Send(h registry.Handle, event models.EventType, payload interface{}) error
	JoinGroup(h registry.Handle, roomID string)
	LeaveGroup(h registry.Handle, roomID string)
	BroadcastToGroup(roomID string, event models.EventType, payload interface{})
	Disconnect(h registry.Handle)
}

type BlockChecker interface {
	Lookup(userID string) (blocklist.Entry, bool)
}

type Lifecycle struct {
	registry        *registry.Registry
	blocks          BlockChecker
	users           database.UserRepository
	presence        *presence.Reconciler
	transport       Transport
	closeSuperseded bool

	// superseded holds older connections left open when closeSuperseded is
	// off, keyed by user then connection id.
	mu         sync.Mutex
	superseded map[string]map[string]registry.Handle
}

func NewLifecycle(reg *registry.Registry, blocks BlockChecker, users database.UserRepository, transport Transport, closeSuperseded bool) *Lifecycle {
	return &Lifecycle{
		registry:        reg,
		blocks:          blocks,
		users:           users,
		presence:        presence.NewReconciler(users, reg),
		transport:       transport,
		closeSuperseded: closeSuperseded,
		superseded:      make(map[string]map[string]registry.Handle),
	}
}

// Connect admits an authenticated connection. Blocked users are told why and
// disconnected. When the user already had a connection, the older one is
// replaced and either disconnected or kept open as superseded. A reconnect
// is not announced since the user never went offline.
func (l *Lifecycle) Connect(ctx context.Context, h registry.Handle) error {
	userID := h.UserID()

	if entry, blocked := l.blocks.Lookup(userID); blocked {
		logger.Info("Refused connection %s for blocked user %s", h.ID(), userID)
		l.send(h, models.EventBlocked, models.BlockedPayload{Reason: entry.Reason})
		l.transport.Disconnect(h)
		return ErrBlocked
	}

	prev, replaced := l.registry.Register(userID, h)
	if replaced {
		logger.Info("User %s reconnected, connection %s supersedes %s", userID, h.ID(), prev.ID())
		if l.closeSuperseded {
			l.transport.Disconnect(prev)
		} else {
			l.keepSuperseded(userID, prev)
		}
	}

	if err := l.users.UpsertUser(ctx, userID, true, h.Username()); err != nil {
		logger.Error("Error marking %s online: %v", userID, err)
	}

	// announce before joining so the new connection does not hear itself
	if !replaced {
		l.transport.BroadcastToGroup(models.GlobalRoomID, models.EventUserJoined, models.NewClientUser(userID, h.Username()))
	}
	l.transport.JoinGroup(h, models.GlobalRoomID)

	l.SendPresence(ctx, h)
	logger.Info("User %s connected (%s)", userID, h.ID())
	return nil
}

// Disconnect tears down h. A superseded connection only leaves the
// transport; the user stays online through the newer connection.
func (l *Lifecycle) Disconnect(ctx context.Context, h registry.Handle) {
	userID, ok := l.registry.Unregister(h.ID())
	if !ok {
		l.dropSuperseded(h)
		logger.Debug("Connection %s for %s closed after being superseded", h.ID(), h.UserID())
		return
	}

	if err := l.users.SetUserOffline(context.WithoutCancel(ctx), userID); err != nil {
		logger.Error("Error marking %s offline: %v", userID, err)
	}

	l.transport.BroadcastToGroup(models.GlobalRoomID, models.EventUserLeft, models.NewClientUser(userID, h.Username()))
	logger.Info("User %s disconnected (%s)", userID, h.ID())
}

// Presence returns the reconciled view. If the store cannot be read the
// view is built from live connections only.
func (l *Lifecycle) Presence(ctx context.Context) *models.PresenceView {
	view, err := l.presence.Build(ctx)
	if err != nil {
		logger.Error("Error reconciling presence: %v", err)
		return l.presence.LiveOnly()
	}
	return view
}

func (l *Lifecycle) SendPresence(ctx context.Context, h registry.Handle) {
	l.send(h, models.EventPresenceSnapshot, l.Presence(ctx))
}

// Kick disconnects every open connection of userID, superseded ones
// included, after telling each the reason. It reports whether any
// connection was found.
func (l *Lifecycle) Kick(userID, reason string) bool {
	handles := l.takeSuperseded(userID)
	if h, ok := l.registry.LookupByUser(userID); ok {
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return false
	}
	if reason == "" {
		reason = blocklist.DefaultReason
	}
	for _, h := range handles {
		l.send(h, models.EventBlocked, models.BlockedPayload{Reason: reason})
		l.transport.Disconnect(h)
		logger.Info("Kicked user %s (%s)", userID, h.ID())
	}
	return true
}

func (l *Lifecycle) keepSuperseded(userID string, h registry.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns, ok := l.superseded[userID]
	if !ok {
		conns = make(map[string]registry.Handle)
		l.superseded[userID] = conns
	}
	conns[h.ID()] = h
}

func (l *Lifecycle) dropSuperseded(h registry.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns, ok := l.superseded[h.UserID()]
	if !ok {
		return
	}
	delete(conns, h.ID())
	if len(conns) == 0 {
		delete(l.superseded, h.UserID())
	}
}

// takeSuperseded removes and returns the user's superseded connections,
// ordered by connection id.
func (l *Lifecycle) takeSuperseded(userID string) []registry.Handle {
	l.mu.Lock()
	conns := l.superseded[userID]
	delete(l.superseded, userID)
	l.mu.Unlock()

	out := make([]registry.Handle, 0, len(conns))
	for _, h := range conns {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// JoinRoom and LeaveRoom manage room subscriptions. The global room is
// managed by Connect only.
func (l *Lifecycle) JoinRoom(h registry.Handle, roomID string) bool {
	if roomID == "" || roomID == models.GlobalRoomID {
		return false
	}
	l.transport.JoinGroup(h, roomID)
	l.send(h, models.EventRoomJoined, models.RoomPayload{RoomID: roomID})
	return true
}

func (l *Lifecycle) LeaveRoom(h registry.Handle, roomID string) bool {
	if roomID == "" || roomID == models.GlobalRoomID {
		return false
	}
	l.transport.LeaveGroup(h, roomID)
	l.send(h, models.EventRoomLeft, models.RoomPayload{RoomID: roomID})
	return true
}

func (l *Lifecycle) send(h registry.Handle, event models.EventType, payload interface{}) {
	if err := l.transport.Send(h, event, payload); err != nil {
		logger.Error("Error sending %s to %s: %v", event, h.UserID(), err)
	}
}
