package orch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

type JoinResult struct {
	PeerID     domain.PeerID
	ICEServers []protocol.ICEServer
	Roster     []domain.Peer
}

// Join registers sid as a peer of roomID. Registration, the roomJoined reply
// and the peerJoined fan-out happen under the room lock, so every socket sees
// membership changes of a room in the same order and a joiner always has its
// roster before it hears about anyone who joined after it.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID, user domain.User) (JoinResult, error) {
	sess, ok := o.Sessions.GetSession(sid)
	if !ok {
		return JoinResult{}, domain.ErrSessionClosed
	}
	if current, _, ok := o.Sessions.RoomOf(sid); ok {
		if current == roomID {
			return JoinResult{}, domain.ErrAlreadyJoined
		}
		o.Leave(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from_room", string(current)).Msg("left previous room")
	}

	peerID := sid.PeerID()
	unlock := o.locks.lock(roomID)
	if o.Admission != nil {
		if err := o.Admission.CanJoin(roomID, user.ID); err != nil {
			unlock()
			log.Info().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("join refused")
			return JoinResult{}, err
		}
	}
	roster, err := o.Rooms.Join(roomID, peerID, user)
	if err != nil {
		unlock()
		return JoinResult{}, fmt.Errorf("join %s: %w", roomID, err)
	}
	o.Sessions.UpdateRoom(sid, roomID)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Int("roster", len(roster)).Msg("added to room")

	res := JoinResult{PeerID: peerID, ICEServers: o.ICEServers, Roster: roster}
	reply := protocol.RoomJoined{
		PeerID:     peerID,
		RoomID:     roomID,
		ICEServers: o.ICEServers,
		PeerList:   make([]protocol.PeerInfo, 0, len(roster)),
	}
	for _, p := range roster {
		reply.PeerList = append(reply.PeerList, protocol.PeerInfo{ID: p.ID, UserID: p.UserID, Name: p.DisplayName})
	}
	if reply.ICEServers == nil {
		reply.ICEServers = []protocol.ICEServer{}
	}
	var slow []core.SessionID
	if err := sess.Signal().Send(reply); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Msg("join reply not delivered")
		if errors.Is(err, domain.ErrBackpressure) {
			slow = append(slow, sid)
		}
	}
	sent := o.broadcast(roomID, peerID, protocol.PeerJoined{PeerID: peerID, UserID: user.ID, Name: user.Username})
	unlock()
	o.applyPolicy(append(slow, sent.Dropped...))

	info := protocol.PeerInfo{ID: peerID, UserID: user.ID, Name: user.Username}
	o.publish(events.RoomTopic(roomID), events.ParticipantJoined, roomID, info)
	if o.Admission != nil {
		if host, ok := o.Admission.Host(roomID); ok && host == user.ID {
			o.publish(events.RoomTopic(roomID), events.HostJoined, roomID, info)
		}
	}
	return res, nil
}

// Leave removes sid from its room and tells the remaining peers. It is a
// no-op for a session that is not in a room.
func (o *Orchestrator) Leave(sid core.SessionID) (domain.RoomID, bool) {
	roomID, ok := o.Sessions.RemoveRoom(sid)
	if !ok {
		return "", false
	}
	peerID := sid.PeerID()

	unlock := o.locks.lock(roomID)
	peer, _ := o.Rooms.Peer(roomID, peerID)
	if !o.Rooms.RemovePeer(roomID, peerID) {
		unlock()
		return roomID, false
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("removed from room")
	sent := o.broadcast(roomID, peerID, protocol.PeerLeft{PeerID: peerID})
	unlock()
	o.applyPolicy(sent.Dropped)

	o.publish(events.RoomTopic(roomID), events.ParticipantLeft, roomID,
		protocol.PeerInfo{ID: peerID, UserID: peer.UserID, Name: peer.DisplayName})
	return roomID, true
}

// OnDisconnect is called by the transport once its session is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.Leave(sid)
	o.Sessions.Unbind(sid)
}

// KickBySID drops sid from its room and closes its transport.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	sess, ok := o.Sessions.GetSession(sid)
	o.Leave(sid)
	if ok {
		sess.Signal().Close()
	}
	o.Sessions.Cancel(sid)
}

// Kick lets the host of roomID remove peerID.
func (o *Orchestrator) Kick(roomID domain.RoomID, hostID domain.UserID, peerID domain.PeerID) error {
	if o.Admission == nil {
		return domain.ErrForbidden
	}
	if host, ok := o.Admission.Host(roomID); !ok || host != hostID {
		return domain.ErrForbidden
	}
	peer, ok := o.Rooms.Peer(roomID, peerID)
	if !ok {
		return domain.ErrPeerNotFound
	}
	info := protocol.PeerInfo{ID: peer.ID, UserID: peer.UserID, Name: peer.DisplayName}
	o.publish(events.UserTopic(peer.UserID), events.YouWereKicked, roomID, info)
	o.KickBySID(core.SessionID(peerID))
	o.publish(events.RoomTopic(roomID), events.ParticipantKicked, roomID, info)
	log.Info().Str("module", "app.orch").Str("room", string(roomID)).Str("peer", string(peerID)).Msg("peer kicked by host")
	return nil
}

// End lets the host close roomID for everyone: every peer is kicked, the
// room hears MEETING_ENDED and no one can join or ask again.
func (o *Orchestrator) End(roomID domain.RoomID, hostID domain.UserID) error {
	if o.Admission == nil {
		return domain.ErrForbidden
	}
	if host, ok := o.Admission.Host(roomID); !ok || host != hostID {
		return domain.ErrForbidden
	}
	unlock := o.locks.lock(roomID)
	if err := o.Admission.EndMeeting(roomID, hostID); err != nil {
		unlock()
		return err
	}
	peers := o.Rooms.ListOtherPeers(roomID, "")
	unlock()
	for _, p := range peers {
		o.KickBySID(core.SessionID(p.ID))
	}
	o.publish(events.RoomTopic(roomID), events.MeetingEnded, roomID, nil)
	log.Info().Str("module", "app.orch").Str("room", string(roomID)).Int("peers", len(peers)).Msg("meeting ended by host")
	return nil
}
