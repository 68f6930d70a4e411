package domain

import "time"

type (
	RoomID string
	PeerID string
)

// Room is a point-in-time view of a registry room. Peers are in join order.
type Room struct {
	ID        RoomID    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Peers     []Peer    `json:"peers"`
}

type RoomInfo struct {
	ID        RoomID    `json:"id"`
	PeerCount int       `json:"peerCount"`
	CreatedAt time.Time `json:"createdAt"`
}
