package testutil

import (
	"sync"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"
)

// Event is one frame that would have reached ConnID.
type Event struct {
	ConnID  string
	Type    models.EventType
	Payload interface{}
}

// RecordingTransport records what the core asks the transport to do. Group
// broadcasts are expanded into one Event per member connection.
type RecordingTransport struct {
	mu           sync.Mutex
	events       []Event
	groups       map[string]map[string]registry.Handle
	disconnected []string

	FailSend bool
}

func NewRecordingTransport() *RecordingTransport {
	return &RecordingTransport{groups: make(map[string]map[string]registry.Handle)}
}

func (t *RecordingTransport) Send(h registry.Handle, event models.EventType, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailSend {
		return ErrInjected
	}
	t.events = append(t.events, Event{ConnID: h.ID(), Type: event, Payload: payload})
	return nil
}

func (t *RecordingTransport) JoinGroup(h registry.Handle, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.groups[roomID]
	if !ok {
		members = make(map[string]registry.Handle)
		t.groups[roomID] = members
	}
	members[h.ID()] = h
}

func (t *RecordingTransport) LeaveGroup(h registry.Handle, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[roomID], h.ID())
}

func (t *RecordingTransport) BroadcastToGroup(roomID string, event models.EventType, payload interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.groups[roomID] {
		t.events = append(t.events, Event{ConnID: id, Type: event, Payload: payload})
	}
}

func (t *RecordingTransport) Disconnect(h registry.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = append(t.disconnected, h.ID())
	for _, members := range t.groups {
		delete(members, h.ID())
	}
}

func (t *RecordingTransport) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// EventsFor returns the frames addressed to connID, optionally filtered by type.
func (t *RecordingTransport) EventsFor(connID string, types ...models.EventType) []Event {
	var out []Event
	for _, e := range t.Events() {
		if e.ConnID != connID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EventsOfType returns every frame of the given type.
func (t *RecordingTransport) EventsOfType(event models.EventType) []Event {
	var out []Event
	for _, e := range t.Events() {
		if e.Type == event {
			out = append(out, e)
		}
	}
	return out
}

func (t *RecordingTransport) Disconnected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.disconnected...)
}

func (t *RecordingTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func containsType(types []models.EventType, e models.EventType) bool {
	for _, t := range types {
		if t == e {
			return true
		}
	}
	return false
}

// Handle is a registry.Handle without a network connection.
type Handle struct {
	Conn string
	User string
	Name string
}

func (h *Handle) ID() string       { return h.Conn }
func (h *Handle) UserID() string   { return h.User }
func (h *Handle) Username() string { return h.Name }
