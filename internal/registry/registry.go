// Package registry keeps the live mapping between authenticated users and
// their connections.
package registry

import (
	"sort"
	"sync"
)

// Handle is one live transport connection. IDs are unique per physical
// connection and never reused.
type Handle interface {
	ID() string
	UserID() string
	Username() string
}

// Registry holds userID -> Handle and connectionID -> userID. Both maps are
// only mutated together under mu.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Handle
	byConn map[string]string
}

func New() *Registry {
	return &Registry{
		byUser: make(map[string]Handle),
		byConn: make(map[string]string),
	}
}

// Register maps userID to h. A previous handle for the same user is replaced
// and returned; it is not closed here.
func (r *Registry) Register(userID string, h Handle) (previous Handle, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok {
		delete(r.byConn, old.ID())
		previous, replaced = old, old.ID() != h.ID()
	}
	r.byUser[userID] = h
	r.byConn[h.ID()] = userID
	return previous, replaced
}

// Unregister removes the connection and its user mapping. It returns false
// for unknown or superseded connection ids.
func (r *Registry) Unregister(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connectionID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connectionID)
	if h, ok := r.byUser[userID]; ok && h.ID() == connectionID {
		delete(r.byUser, userID)
	}
	return userID, true
}

func (r *Registry) LookupByUser(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

func (r *Registry) AllLiveUserIDs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.byUser))
	for id := range r.byUser {
		out[id] = struct{}{}
	}
	return out
}

// Handles returns a snapshot of live handles ordered by user id.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.byUser))
	for _, h := range r.byUser {
		out = append(out, h)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID() < out[j].UserID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
