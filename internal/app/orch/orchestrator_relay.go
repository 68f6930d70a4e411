package orch

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

var ErrNoTarget = fmt.Errorf("%w: missing or self targetPeerId", domain.ErrPeerNotFound)

// Relay forwards a negotiation message from sid to the peer it names,
// tagged with the sender. A target that already left yields
// domain.ErrPeerNotFound; callers are expected to log and drop it.
func (o *Orchestrator) Relay(sid core.SessionID, m protocol.Targeted) error {
	roomID, _, ok := o.Sessions.RoomOf(sid)
	if !ok {
		return fmt.Errorf("relay %s from %s: %w", m.Type(), sid, domain.ErrRoomNotFound)
	}
	target := m.Target()
	from := sid.PeerID()
	if target == "" || target == from {
		return ErrNoTarget
	}
	if _, ok := o.Rooms.Peer(roomID, target); !ok {
		return fmt.Errorf("relay %s to %s: %w", m.Type(), target, domain.ErrPeerNotFound)
	}
	targetSID := core.SessionID(target)
	sess, ok := o.Sessions.GetSession(targetSID)
	if !ok {
		return fmt.Errorf("relay %s to %s: %w", m.Type(), target, domain.ErrPeerNotFound)
	}
	if m.Type() == protocol.TypeOffer {
		if err := o.Rooms.Link(roomID, from, target); err != nil {
			return fmt.Errorf("relay %s to %s: %w", m.Type(), target, err)
		}
	}
	if err := o.deliver(targetSID, sess, m.From(from)); err != nil {
		return fmt.Errorf("relay %s to %s: %w", m.Type(), target, err)
	}
	log.Debug().Str("module", "app.orch").Str("room", string(roomID)).Str("from", string(from)).Str("to", string(target)).Str("type", string(m.Type())).Msg("relayed")
	return nil
}
