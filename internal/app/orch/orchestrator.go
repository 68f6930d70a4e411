// Package orch drives signaling sessions through the room lifecycle and
// relays negotiation messages between peers. It never looks inside SDP or
// ICE payloads.
package orch

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/app"
	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// Admission is the part of the admission controller the relay consults.
type Admission interface {
	CanJoin(room domain.RoomID, user domain.UserID) error
	Host(room domain.RoomID) (domain.UserID, bool)
	EndMeeting(room domain.RoomID, host domain.UserID) error
}

type Orchestrator struct {
	Sessions   *app.SessionRegistry
	Rooms      core.RoomRegistry
	Admission  Admission
	Events     events.Publisher
	Policy     app.Policy
	ICEServers []protocol.ICEServer

	locks roomLocks
}

// roomLocks serializes membership changes per room so that the join reply
// and the peerJoined/peerLeft fan-out of one change reach every socket
// before those of the next.
type roomLocks struct {
	mu sync.Mutex
	m  map[domain.RoomID]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func (l *roomLocks) lock(id domain.RoomID) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[domain.RoomID]*roomLock)
	}
	rl, ok := l.m[id]
	if !ok {
		rl = &roomLock{}
		l.m[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}

// PublishResult reports delivery stats of a room broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []core.SessionID
}

// broadcast enqueues m for every peer of room but exclude. Slow peers are
// only reported; the caller runs applyPolicy once it holds no room lock.
func (o *Orchestrator) broadcast(room domain.RoomID, exclude domain.PeerID, m protocol.Message) PublishResult {
	res := PublishResult{}
	for _, p := range o.Rooms.ListOtherPeers(room, exclude) {
		sid := core.SessionID(p.ID)
		sess, ok := o.Sessions.GetSession(sid)
		if !ok {
			continue
		}
		err := sess.Signal().Send(m)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, domain.ErrBackpressure):
			res.Dropped = append(res.Dropped, sid)
		}
	}
	log.Debug().Str("module", "app.orch").Str("room", string(room)).Str("type", string(m.Type())).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// deliver sends m to a single session and applies the policy if its queue
// is full. It must not be called with a room lock held.
func (o *Orchestrator) deliver(sid core.SessionID, sess core.MemberSession, m protocol.Message) error {
	err := sess.Signal().Send(m)
	if errors.Is(err, domain.ErrBackpressure) {
		o.applyPolicy([]core.SessionID{sid})
	}
	return err
}

func (o *Orchestrator) applyPolicy(dropped []core.SessionID) {
	if o.Policy == nil {
		return
	}
	for _, sid := range dropped {
		sess, ok := o.Sessions.GetSession(sid)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(sid, sess) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("sid", string(sid)).Msg("slow peer kicked")
			o.KickBySID(sid)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) publish(topic events.Topic, kind events.Kind, room domain.RoomID, payload any) {
	if o.Events == nil {
		return
	}
	o.Events.Publish(topic, events.Event{Type: kind, RoomID: room, Payload: payload})
}
