package mesh

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

var errGlareIgnored = errors.New("colliding offer ignored")

type peer struct {
	id  domain.PeerID
	m   *Manager
	log zerolog.Logger

	mu sync.Mutex
	// initiator is the side that was in the room first. It wins offer
	// collisions.
	initiator    bool
	conn         MediaConnection
	state        State
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	transport    webrtc.PeerConnectionState
	grace        *time.Timer
	dirty        bool
	remoteTracks map[string]RemoteTrack
	closed       bool

	// Local candidates wait until the first description went out.
	candMu   sync.Mutex
	descSent bool
	outCands []webrtc.ICECandidateInit
}

func newPeer(m *Manager, id domain.PeerID, initiator bool) *peer {
	return &peer{
		id:           id,
		m:            m,
		log:          m.log.With().Str("peer", string(id)).Logger(),
		initiator:    initiator,
		state:        StateNew,
		remoteTracks: make(map[string]RemoteTrack),
	}
}

func (p *peer) openLocked(ice []webrtc.ICEServer, local []webrtc.TrackLocal) error {
	conn, err := p.m.factory(p.id, ice)
	if err != nil {
		return fmt.Errorf("open connection to %s: %w", p.id, err)
	}
	p.conn = conn
	conn.OnICECandidate(p.onLocalCandidate)
	conn.OnConnectionStateChange(p.onTransport)
	conn.OnTrack(p.onTrack)

	for _, t := range local {
		if err := conn.AddTrack(t); err != nil {
			p.log.Warn().Err(err).Str("track", t.ID()).Msg("attach local track")
		}
	}
	p.emitState(StateNew, nil)
	p.log.Debug().Bool("initiator", p.initiator).Int("tracks", len(local)).Msg("peer opened")
	return nil
}

func (p *peer) setStateLocked(s State, err error) {
	if p.state == s {
		return
	}
	p.state = s
	p.emitState(s, err)
}

func (p *peer) emitState(s State, err error) {
	id := p.id
	p.m.emit(func(o Observer) { o.OnStateChange(id, s, err) })
}

func (p *peer) offerLocked() error {
	if p.conn.SignalingState() != webrtc.SignalingStateStable {
		p.dirty = true
		return nil
	}
	sdp, err := p.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	p.dirty = false
	if p.state != StateConnected {
		p.setStateLocked(StateOffering, nil)
	}
	if err := p.m.signaler.SendOffer(p.id, sdp); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	p.markDescSent()
	return nil
}

func (p *peer) renegotiateLocked() error {
	if p.state == StateConnected && p.conn.SignalingState() == webrtc.SignalingStateStable {
		return p.offerLocked()
	}
	p.dirty = true
	return nil
}

func (p *peer) acceptOfferLocked(sdp string) error {
	if p.conn.SignalingState() != webrtc.SignalingStateStable {
		if p.keepsOwnOffer() {
			p.log.Debug().Msg("offer collision, keeping local offer")
			return errGlareIgnored
		}
		p.log.Debug().Msg("offer collision, rolling back")
		if err := p.conn.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		// our offer is gone; ask for another round once this one settles
		p.dirty = true
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply offer: %w", err)
	}
	p.applyRemoteLocked()

	answer, err := p.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if p.state != StateConnected {
		p.setStateLocked(StateAnswering, nil)
	}
	if err := p.m.signaler.SendAnswer(p.id, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	p.markDescSent()

	if p.conn.NeedsNegotiation() {
		p.dirty = true
	}
	if p.dirty && p.state == StateConnected {
		return p.offerLocked()
	}
	return nil
}

// keepsOwnOffer decides an offer collision. The lower peer id wins when
// the local id is known; otherwise the initiator does.
func (p *peer) keepsOwnOffer() bool {
	if self := p.m.localID(); self != "" {
		return self < p.id
	}
	return p.initiator
}

func (p *peer) acceptAnswerLocked(sdp string) error {
	if p.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.log.Debug().Str("signaling", p.conn.SignalingState().String()).Msg("stale answer dropped")
		return nil
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	p.applyRemoteLocked()

	if p.transport == webrtc.PeerConnectionStateConnected {
		p.setStateLocked(StateConnected, nil)
	} else {
		p.setStateLocked(StateConnecting, nil)
	}
	if p.dirty || p.conn.NeedsNegotiation() {
		return p.renegotiateLocked()
	}
	return nil
}

// applyRemoteLocked flushes candidates queued before the remote description,
// in arrival order.
func (p *peer) applyRemoteLocked() {
	p.remoteSet = true
	queued := p.pending
	p.pending = nil
	for _, c := range queued {
		if err := p.conn.AddICECandidate(c); err != nil {
			p.log.Warn().Err(err).Msg("add queued ice candidate")
		}
	}
}

func (p *peer) markDescSent() {
	p.candMu.Lock()
	defer p.candMu.Unlock()
	if p.descSent {
		return
	}
	p.descSent = true
	for _, c := range p.outCands {
		p.sendCandidate(c)
	}
	p.outCands = nil
}

func (p *peer) onLocalCandidate(c webrtc.ICECandidateInit) {
	p.candMu.Lock()
	defer p.candMu.Unlock()
	if !p.descSent {
		p.outCands = append(p.outCands, c)
		return
	}
	p.sendCandidate(c)
}

func (p *peer) sendCandidate(c webrtc.ICECandidateInit) {
	if err := p.m.signaler.SendCandidate(p.id, c); err != nil {
		p.log.Debug().Err(err).Msg("send ice candidate")
	}
}

func (p *peer) onTransport(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.transport = s
	p.log.Debug().Str("transport", s.String()).Str("state", p.state.String()).Msg("transport state")

	var conn MediaConnection
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		if p.state == StateAnswering {
			p.setStateLocked(StateConnecting, nil)
		}
	case webrtc.PeerConnectionStateConnected:
		p.stopGraceLocked()
		p.setStateLocked(StateConnected, nil)
		if p.dirty {
			if err := p.renegotiateLocked(); err != nil {
				conn = p.failLocked(err)
			}
		}
	case webrtc.PeerConnectionStateDisconnected:
		if p.grace == nil {
			p.grace = time.AfterFunc(p.m.grace, p.graceExpired)
		}
	case webrtc.PeerConnectionStateFailed:
		conn = p.failLocked(errors.New("transport failed"))
	case webrtc.PeerConnectionStateClosed:
		conn = p.shutdownLocked(nil)
	}
	p.mu.Unlock()
	closeConn(conn, p.log)
}

func (p *peer) graceExpired() {
	p.mu.Lock()
	var conn MediaConnection
	if !p.closed && p.transport == webrtc.PeerConnectionStateDisconnected {
		p.log.Info().Dur("grace", p.m.grace).Msg("transport stayed disconnected")
		conn = p.shutdownLocked(fmt.Errorf("%w: disconnected", domain.ErrNegotiationFailed))
	}
	p.mu.Unlock()
	closeConn(conn, p.log)
}

func (p *peer) stopGraceLocked() {
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
}

func (p *peer) onTrack(t RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.remoteTracks[t.ID()] = t
	p.log.Info().Str("track", t.ID()).Str("kind", t.Kind().String()).Msg("remote track")
	id := p.id
	p.m.emit(func(o Observer) { o.OnTrack(id, t) })
}

// failLocked moves the peer through FAILED to CLOSED. It does not retry.
func (p *peer) failLocked(cause error) MediaConnection {
	if p.closed {
		return nil
	}
	err := cause
	if !errors.Is(err, domain.ErrNegotiationFailed) {
		err = fmt.Errorf("%w: %v", domain.ErrNegotiationFailed, cause)
	}
	p.log.Warn().Err(err).Msg("peer failed")
	p.setStateLocked(StateFailed, err)
	return p.shutdownLocked(err)
}

// shutdownLocked marks the peer closed and drops it from the manager. The
// returned connection must be closed once p.mu is released.
func (p *peer) shutdownLocked(err error) MediaConnection {
	if p.closed {
		return nil
	}
	p.closed = true
	p.stopGraceLocked()
	p.pending = nil
	p.remoteTracks = nil
	p.setStateLocked(StateClosed, err)
	id := p.id
	p.m.emit(func(o Observer) { o.OnPeerClosed(id) })
	p.m.forget(p)

	conn := p.conn
	p.conn = nil
	return conn
}
