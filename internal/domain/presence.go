package domain

import "time"

// Presence is the advisory online/active view of a user. It is never
// authoritative; a partition can leave it stale until the next event.
type Presence struct {
	UserID   UserID    `json:"userId"`
	Online   bool      `json:"online"`
	Active   bool      `json:"active"`
	LastSeen time.Time `json:"lastSeen,omitzero"`
}
