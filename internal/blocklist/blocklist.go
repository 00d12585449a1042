// Package blocklist holds the set of user ids that may not connect or send.
// Entries are permanent until explicitly removed.
package blocklist

import (
	"sort"
	"sync"
	"time"
)

type Entry struct {
	UserID    string    `json:"userId"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blockedAt"`
}

// DefaultReason is reported when an entry was created without a reason.
const DefaultReason = "You have been blocked from sending messages"

type Gate struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewGate() *Gate {
	return &Gate{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Seed blocks every id in ids with the given reason. Blank ids are skipped.
func (g *Gate) Seed(ids []string, reason string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		g.Block(id, reason)
	}
}

func (g *Gate) IsBlocked(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.entries[userID]
	return ok
}

// Lookup returns the entry for userID. The reason is never empty.
func (g *Gate) Lookup(userID string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[userID]
	if ok && e.Reason == "" {
		e.Reason = DefaultReason
	}
	return e, ok
}

// Block adds or replaces the entry for userID.
func (g *Gate) Block(userID, reason string) Entry {
	e := Entry{UserID: userID, Reason: reason, BlockedAt: g.now()}
	g.mu.Lock()
	g.entries[userID] = e
	g.mu.Unlock()
	return e
}

// Unblock reports whether an entry was removed. Unknown ids are a no-op.
func (g *Gate) Unblock(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entries[userID]; !ok {
		return false
	}
	delete(g.entries, userID)
	return true
}

// List returns a snapshot ordered by user id.
func (g *Gate) List() []Entry {
	g.mu.RLock()
	out := make([]Entry, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (g *Gate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}
