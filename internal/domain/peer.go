package domain

import "time"

// Peer is one transport session (browser tab) inside a room.
// ID is distinct from UserID: one user may hold several peers.
type Peer struct {
	ID          PeerID    `json:"id"`
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"name"`
	Connections []PeerID  `json:"connections,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Member represents a signaling session's participation meta.
// No transport or lifecycle logic here.
type Member struct {
	User *User
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User) *Member {
	return &Member{User: user}
}
