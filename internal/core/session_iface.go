package core

import "github.com/somnesh/NexMeet-sub000/internal/domain"

type SessionID string

// PeerID is the registry-facing identity of a signaling session.
func (s SessionID) PeerID() domain.PeerID { return domain.PeerID(s) }

// MemberSession binds domain.Member and its transport endpoint.
// This is what the orchestrator addresses and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
