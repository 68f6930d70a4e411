package core

import (
	"time"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// RoomRegistry is the single source of truth for who is in which room.
// Implementations perform no network I/O.
type RoomRegistry interface {
	GetOrCreate(id domain.RoomID) domain.Room
	AddPeer(id domain.RoomID, peer domain.PeerID, user domain.User) error
	// Join is GetOrCreate and AddPeer under one critical section.
	Join(id domain.RoomID, peer domain.PeerID, user domain.User) ([]domain.Peer, error)
	RemovePeer(id domain.RoomID, peer domain.PeerID) bool
	ListOtherPeers(id domain.RoomID, exclude domain.PeerID) []domain.Peer
	Link(id domain.RoomID, a, b domain.PeerID) error
	Peer(id domain.RoomID, peer domain.PeerID) (domain.Peer, bool)
	Room(id domain.RoomID) (domain.Room, bool)
	List() []domain.RoomInfo
	PruneEmpty(cutoff time.Time) int
}
