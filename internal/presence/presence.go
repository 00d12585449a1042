// Package presence merges the live connection registry with persisted user
// records into one online/offline view. A live connection always wins over
// the persisted online flag.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chat-relay/internal/models"
	"chat-relay/internal/registry"
)

type UserLister interface {
	GetAllUsers(ctx context.Context) ([]*models.PersistedUser, error)
}

type LiveSource interface {
	Handles() []registry.Handle
}

type Reconciler struct {
	store UserLister
	live  LiveSource
	now   func() time.Time
}

func NewReconciler(store UserLister, live LiveSource) *Reconciler {
	return &Reconciler{store: store, live: live, now: time.Now}
}

// Build fetches every persisted user and overlays the live registry.
func (r *Reconciler) Build(ctx context.Context) (*models.PresenceView, error) {
	users, err := r.store.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users for presence: %w", err)
	}
	return Merge(users, r.live.Handles(), r.now()), nil
}

// LiveOnly builds a view from the registry alone, used when the store is
// unavailable.
func (r *Reconciler) LiveOnly() *models.PresenceView {
	return Merge(nil, r.live.Handles(), r.now())
}

// Merge seeds every persisted user as offline, then marks users with a live
// handle online under the live display name. Live users without a record get
// a synthesized entry. Lists are ordered by username, then id.
func Merge(users []*models.PersistedUser, live []registry.Handle, now time.Time) *models.PresenceView {
	working := make(map[string]*models.PersistedUser, len(users)+len(live))
	for _, u := range users {
		if u == nil || u.ID == "" {
			continue
		}
		cp := *u
		cp.IsOnline = false
		working[u.ID] = &cp
	}

	for _, h := range live {
		u, ok := working[h.UserID()]
		if !ok {
			u = &models.PersistedUser{ID: h.UserID()}
			working[h.UserID()] = u
		}
		u.IsOnline = true
		u.LastSeen = now
		if name := h.Username(); name != "" && name != u.Username {
			u.Username = name
		}
	}

	view := &models.PresenceView{
		Online:  []models.ClientUser{},
		Offline: []models.ClientUser{},
	}
	for _, u := range working {
		cu := models.NewClientUser(u.ID, u.Username)
		if u.IsOnline {
			view.Online = append(view.Online, cu)
		} else {
			view.Offline = append(view.Offline, cu)
		}
	}
	sortUsers(view.Online)
	sortUsers(view.Offline)
	return view
}

func sortUsers(users []models.ClientUser) {
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
}
