package mesh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	peer     domain.PeerID
	sig      webrtc.SignalingState
	remote   []webrtc.SessionDescription
	applied  []webrtc.ICECandidateInit
	early    bool
	tracks   []string
	offers   int
	answers  int
	rollback int
	needs    bool
	closed   bool

	onCand  func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(RemoteTrack)
}

func (c *fakeConn) CreateOffer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	c.sig = webrtc.SignalingStateHaveLocalOffer
	c.needs = false
	return fmt.Sprintf("offer-%d", c.offers), nil
}

func (c *fakeConn) CreateAnswer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sig != webrtc.SignalingStateHaveRemoteOffer {
		return "", errors.New("no remote offer")
	}
	c.answers++
	c.sig = webrtc.SignalingStateStable
	return fmt.Sprintf("answer-%d", c.answers), nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch d.Type {
	case webrtc.SDPTypeOffer:
		if c.sig != webrtc.SignalingStateStable {
			return errors.New("offer in wrong state")
		}
		c.sig = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if c.sig != webrtc.SignalingStateHaveLocalOffer {
			return errors.New("answer in wrong state")
		}
		c.sig = webrtc.SignalingStateStable
	}
	c.remote = append(c.remote, d)
	return nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.remote) == 0 {
		c.early = true
	}
	c.applied = append(c.applied, ci)
	return nil
}

func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollback++
	c.sig = webrtc.SignalingStateStable
	return nil
}

func (c *fakeConn) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sig
}

func (c *fakeConn) NeedsNegotiation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needs
}

func (c *fakeConn) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t.ID())
	c.needs = true
	return nil
}

func (c *fakeConn) RemoveTrack(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.tracks {
		if have == id {
			c.tracks = append(c.tracks[:i], c.tracks[i+1:]...)
			c.needs = true
			return nil
		}
	}
	return errors.New("no such track")
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) fireState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	fn(s)
}

func (c *fakeConn) fireCandidate(cand string) {
	c.mu.Lock()
	fn := c.onCand
	c.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: cand})
}

func (c *fakeConn) fireTrack(t RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	fn(t)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) counts() (offers, answers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.answers
}

func (c *fakeConn) appliedCandidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.applied))
	for _, a := range c.applied {
		out = append(out, a.Candidate)
	}
	return out
}

type sent struct {
	Kind string
	To   domain.PeerID
	Body string
}

type recordingSignaler struct {
	mu  sync.Mutex
	out []sent
}

func (s *recordingSignaler) SendOffer(to domain.PeerID, sdp string) error {
	s.add(sent{"offer", to, sdp})
	return nil
}

func (s *recordingSignaler) SendAnswer(to domain.PeerID, sdp string) error {
	s.add(sent{"answer", to, sdp})
	return nil
}

func (s *recordingSignaler) SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error {
	s.add(sent{"candidate", to, c.Candidate})
	return nil
}

func (s *recordingSignaler) add(m sent) {
	s.mu.Lock()
	s.out = append(s.out, m)
	s.mu.Unlock()
}

func (s *recordingSignaler) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.out...)
}

type stateEvent struct {
	Peer  domain.PeerID
	State State
	Err   error
}

type recorder struct {
	mu     sync.Mutex
	states []stateEvent
	tracks []string
	closed []domain.PeerID
}

func (r *recorder) OnStateChange(p domain.PeerID, s State, err error) {
	r.mu.Lock()
	r.states = append(r.states, stateEvent{p, s, err})
	r.mu.Unlock()
}

func (r *recorder) OnTrack(p domain.PeerID, t RemoteTrack) {
	r.mu.Lock()
	r.tracks = append(r.tracks, string(p)+"/"+t.ID())
	r.mu.Unlock()
}

func (r *recorder) OnPeerClosed(p domain.PeerID) {
	r.mu.Lock()
	r.closed = append(r.closed, p)
	r.mu.Unlock()
}

func (r *recorder) statesOf(p domain.PeerID) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, e := range r.states {
		if e.Peer == p {
			out = append(out, e.State)
		}
	}
	return out
}

func (r *recorder) lastErr(p domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for _, e := range r.states {
		if e.Peer == p {
			err = e.Err
		}
	}
	return err
}

type harness struct {
	m     *Manager
	sig   *recordingSignaler
	rec   *recorder
	mu    sync.Mutex
	conns map[domain.PeerID][]*fakeConn
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	h := &harness{
		sig:   &recordingSignaler{},
		rec:   &recorder{},
		conns: make(map[domain.PeerID][]*fakeConn),
	}
	h.m = NewManager(Config{
		Factory: func(p domain.PeerID, _ []webrtc.ICEServer) (MediaConnection, error) {
			c := &fakeConn{peer: p, sig: webrtc.SignalingStateStable}
			h.mu.Lock()
			h.conns[p] = append(h.conns[p], c)
			h.mu.Unlock()
			return c, nil
		},
		Signaler: h.sig,
		Grace:    grace,
		Logger:   zerolog.Nop(),
	})
	h.m.Subscribe(h.rec)
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) conn(t *testing.T, p domain.PeerID) *fakeConn {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	cs := h.conns[p]
	require.NotEmpty(t, cs, "no connection to %s", p)
	return cs[len(cs)-1]
}

func (h *harness) connCount(p domain.PeerID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[p])
}

func (h *harness) waitStates(t *testing.T, p domain.PeerID, want ...State) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := h.rec.statesOf(p)
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond, "states of %s: %v", p, h.rec.statesOf(p))
}

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType
}

func (f fakeRemote) ID() string                { return f.id }
func (f fakeRemote) StreamID() string          { return "stream" }
func (f fakeRemote) Kind() webrtc.RTPCodecType { return f.kind }

func (f fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

type localTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (l localTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (l localTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (l localTrack) ID() string                            { return l.id }
func (l localTrack) RID() string                           { return "" }
func (l localTrack) StreamID() string                      { return "local" }
func (l localTrack) Kind() webrtc.RTPCodecType             { return l.kind }
