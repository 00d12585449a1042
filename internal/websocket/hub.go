package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/pkg/logger"
)

var ErrUnknownHandle = errors.New("handle is not a websocket client")

// Hub tracks attached clients and their group memberships. Group names are
// room ids; every session joins models.GlobalRoomID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func encode(event models.EventType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(models.Envelope{Type: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", event, err)
	}
	return data, nil
}

// Send queues one event for handle. A client whose buffer is full is
// disconnected.
func (h *Hub) Send(handle registry.Handle, event models.EventType, payload interface{}) error {
	c, ok := handle.(*Client)
	if !ok {
		return ErrUnknownHandle
	}
	data, err := encode(event, payload)
	if err != nil {
		return err
	}
	if err := c.enqueue(data); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			logger.Warn("Send buffer full for %s, disconnecting", c.userID)
			h.Disconnect(c)
		}
		return err
	}
	return nil
}

func (h *Hub) JoinGroup(handle registry.Handle, roomID string) {
	c, ok := handle.(*Client)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[roomID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) LeaveGroup(handle registry.Handle, roomID string) {
	c, ok := handle.(*Client)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, roomID)
}

func (h *Hub) leaveLocked(c *Client, roomID string) {
	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

// BroadcastToGroup encodes once and queues the frame for every member.
// Members that cannot keep up are disconnected.
func (h *Hub) BroadcastToGroup(roomID string, event models.EventType, payload interface{}) {
	data, err := encode(event, payload)
	if err != nil {
		logger.Error("Error broadcasting to %s: %v", roomID, err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[roomID]))
	for c := range h.groups[roomID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.enqueue(data); errors.Is(err, ErrSendBufferFull) {
			logger.Warn("Send buffer full for %s, disconnecting", c.userID)
			h.Disconnect(c)
		}
	}
}

// Disconnect detaches handle from every group and closes its send channel,
// which makes the write pump close the socket.
func (h *Hub) Disconnect(handle registry.Handle) {
	c, ok := handle.(*Client)
	if !ok {
		return
	}
	h.mu.Lock()
	delete(h.clients, c.id)
	for roomID := range h.groups {
		h.leaveLocked(c, roomID)
	}
	h.mu.Unlock()

	if c.close() {
		logger.Debug("Closed connection %s for %s", c.id, c.userID)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GroupSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[roomID])
}

// Shutdown disconnects every attached client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Disconnect(c)
	}
}
