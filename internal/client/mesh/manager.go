package mesh

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

const DefaultGrace = 5 * time.Second

type Config struct {
	Factory  ConnectionFactory
	Signaler Signaler
	// Grace is how long a disconnected transport may stay down before the
	// peer is closed.
	Grace  time.Duration
	Logger zerolog.Logger
}

// Manager holds exactly one connection per remote peer.
// Lock order: peer.mu before Manager.mu.
type Manager struct {
	factory  ConnectionFactory
	signaler Signaler
	grace    time.Duration
	log      zerolog.Logger
	disp     *dispatcher

	mu     sync.Mutex
	self   domain.PeerID
	peers  map[domain.PeerID]*peer
	ice    []webrtc.ICEServer
	local  []webrtc.TrackLocal
	closed bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Manager{
		factory:  cfg.Factory,
		signaler: cfg.Signaler,
		grace:    cfg.Grace,
		log:      cfg.Logger,
		disp:     newDispatcher(),
		peers:    make(map[domain.PeerID]*peer),
	}
}

// Subscribe registers o and returns a func that removes it.
func (m *Manager) Subscribe(o Observer) (unsubscribe func()) {
	return m.disp.subscribe(o)
}

// SetLocalID tells the manager its own peer id. Once known, offer
// collisions are settled by comparing ids, so both ends agree even when
// each believes it initiated.
func (m *Manager) SetLocalID(id domain.PeerID) {
	m.mu.Lock()
	m.self = id
	m.mu.Unlock()
}

func (m *Manager) localID() domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// HandleRoster records the ICE servers of the call and prepares a connection
// for every peer that was already in the room. The newcomer never offers.
func (m *Manager) HandleRoster(ice []webrtc.ICEServer, roster []domain.PeerID) error {
	m.mu.Lock()
	m.ice = append([]webrtc.ICEServer(nil), ice...)
	m.mu.Unlock()

	var errs []error
	for _, id := range roster {
		p, created, err := m.getOrCreate(id, false)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.mu.Unlock()
		if !created {
			m.log.Debug().Str("peer", string(id)).Msg("roster peer already known")
		}
	}
	return errors.Join(errs...)
}

// HandlePeerJoined starts a negotiation towards a newcomer. Repeated
// notifications for a known peer are no-ops.
func (m *Manager) HandlePeerJoined(id domain.PeerID) error {
	p, created, err := m.getOrCreate(id, true)
	if err != nil {
		return err
	}
	var conn MediaConnection
	if created {
		err = p.offerLocked()
		if err != nil {
			conn = p.failLocked(err)
		}
	}
	p.mu.Unlock()
	closeConn(conn, m.log)
	return err
}

// HandlePeerLeft closes the connection to id. Unknown peers are ignored.
func (m *Manager) HandlePeerLeft(id domain.PeerID) {
	p := m.lookup(id)
	if p == nil {
		return
	}
	p.mu.Lock()
	conn := p.shutdownLocked(nil)
	p.mu.Unlock()
	closeConn(conn, m.log)
}

// HandleOffer applies a remote offer and answers it. An offer from an unknown
// peer creates its connection.
func (m *Manager) HandleOffer(from domain.PeerID, sdp string) error {
	p, _, err := m.getOrCreate(from, false)
	if err != nil {
		return err
	}
	var conn MediaConnection
	err = p.acceptOfferLocked(sdp)
	if err != nil && !errors.Is(err, errGlareIgnored) {
		conn = p.failLocked(err)
	}
	p.mu.Unlock()
	closeConn(conn, m.log)
	if errors.Is(err, errGlareIgnored) {
		return nil
	}
	return err
}

func (m *Manager) HandleAnswer(from domain.PeerID, sdp string) error {
	p, err := m.lockPeer(from)
	if err != nil {
		return err
	}
	var conn MediaConnection
	err = p.acceptAnswerLocked(sdp)
	if err != nil {
		conn = p.failLocked(err)
	}
	p.mu.Unlock()
	closeConn(conn, m.log)
	return err
}

// HandleCandidate applies c, or queues it until the remote description is set.
func (m *Manager) HandleCandidate(from domain.PeerID, c webrtc.ICECandidateInit) error {
	p, err := m.lockPeer(from)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	if err := p.conn.AddICECandidate(c); err != nil {
		p.log.Warn().Err(err).Msg("add ice candidate")
	}
	return nil
}

// Renegotiate re-runs the offer step on the existing connection to id.
func (m *Manager) Renegotiate(id domain.PeerID) error {
	p, err := m.lockPeer(id)
	if err != nil {
		return err
	}
	var conn MediaConnection
	err = p.renegotiateLocked()
	if err != nil {
		conn = p.failLocked(err)
	}
	p.mu.Unlock()
	closeConn(conn, m.log)
	return err
}

// AttachTrack adds t to the local set and to every open connection.
// Connections created later pick it up on creation.
func (m *Manager) AttachTrack(t webrtc.TrackLocal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	for i, have := range m.local {
		if have.ID() == t.ID() {
			m.local = append(m.local[:i], m.local[i+1:]...)
			break
		}
	}
	m.local = append(m.local, t)
	peers := m.snapshotLocked()
	m.mu.Unlock()

	for _, p := range peers {
		m.updatePeer(p, func() error { return p.conn.AddTrack(t) })
	}
	return nil
}

// DetachTrack removes the local track with the given id everywhere.
func (m *Manager) DetachTrack(trackID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	found := false
	for i, have := range m.local {
		if have.ID() == trackID {
			m.local = append(m.local[:i], m.local[i+1:]...)
			found = true
			break
		}
	}
	peers := m.snapshotLocked()
	m.mu.Unlock()
	if !found {
		return nil
	}

	for _, p := range peers {
		m.updatePeer(p, func() error { return p.conn.RemoveTrack(trackID) })
	}
	return nil
}

func (m *Manager) updatePeer(p *peer, change func() error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var conn MediaConnection
	if err := change(); err != nil {
		p.log.Warn().Err(err).Msg("update local tracks")
	}
	if err := p.renegotiateLocked(); err != nil {
		conn = p.failLocked(err)
	}
	p.mu.Unlock()
	closeConn(conn, m.log)
}

func (m *Manager) State(id domain.PeerID) (State, bool) {
	p := m.lookup(id)
	if p == nil {
		return StateClosed, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, !p.closed
}

// Peers lists the remote peers with an open connection.
func (m *Manager) Peers() []domain.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PeerID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close tears down every connection, including negotiations in flight.
// Events already emitted are still delivered.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	peers := m.snapshotLocked()
	m.mu.Unlock()

	for _, p := range peers {
		p.mu.Lock()
		conn := p.shutdownLocked(nil)
		p.mu.Unlock()
		closeConn(conn, m.log)
	}
	m.disp.stop()
}

func (m *Manager) lookup(id domain.PeerID) *peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[id]
}

// lockPeer returns the open peer id with its mutex held.
func (m *Manager) lockPeer(id domain.PeerID) (*peer, error) {
	p := m.lookup(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, id)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, id)
	}
	return p, nil
}

func (m *Manager) snapshotLocked() []*peer {
	out := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// getOrCreate returns the peer with its mutex held. A new peer is inserted
// already locked, so nobody observes it before its connection exists.
func (m *Manager) getOrCreate(id domain.PeerID, initiator bool) (*peer, bool, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, false, domain.ErrSessionClosed
		}
		if p, ok := m.peers[id]; ok {
			m.mu.Unlock()
			p.mu.Lock()
			if p.closed {
				// lost a race with shutdown; the entry is gone by now
				p.mu.Unlock()
				continue
			}
			return p, false, nil
		}

		p := newPeer(m, id, initiator)
		p.mu.Lock()
		m.peers[id] = p
		ice := append([]webrtc.ICEServer(nil), m.ice...)
		local := append([]webrtc.TrackLocal(nil), m.local...)
		m.mu.Unlock()

		if err := p.openLocked(ice, local); err != nil {
			p.shutdownLocked(err)
			p.mu.Unlock()
			return nil, false, err
		}
		return p, true, nil
	}
}

func (m *Manager) emit(fn func(Observer)) { m.disp.emit(fn) }

func (m *Manager) forget(p *peer) {
	m.mu.Lock()
	if m.peers[p.id] == p {
		delete(m.peers, p.id)
	}
	m.mu.Unlock()
}

func closeConn(conn MediaConnection, log zerolog.Logger) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("close connection")
	}
}
