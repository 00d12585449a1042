package models

import "time"

// PersistedUser is the durable user record. Username is empty when the
// store has never been told a display name.
type PersistedUser struct {
	ID       string    `json:"id"`
	Username string    `json:"username,omitempty"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// ClientUser is the presence entry sent to clients.
type ClientUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// NewClientUser falls back to the id when no display name is known.
func NewClientUser(id, username string) ClientUser {
	if username == "" {
		username = id
	}
	return ClientUser{ID: id, Username: username}
}

type PresenceView struct {
	Online  []ClientUser `json:"online"`
	Offline []ClientUser `json:"offline"`
}
