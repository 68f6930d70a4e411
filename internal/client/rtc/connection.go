// Package rtc implements mesh.MediaConnection on top of pion.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

var ErrUnknownTrack = errors.New("unknown local track")

// Connection wraps one PeerConnection. pion callbacks are handed to a single
// worker goroutine, so handlers run in order and never inside a method call.
type Connection struct {
	pc   *webrtc.PeerConnection
	peer domain.PeerID
	log  zerolog.Logger

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	dirty   bool
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(mesh.RemoteTrack)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.PeerID, log zerolog.Logger) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:      pc,
		peer:    peer,
		log:     log.With().Str("peer", string(peer)).Logger(),
		senders: make(map[string]*webrtc.RTPSender),
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
	}
	go c.worker()
	c.hook()
	return c, nil
}

func (c *Connection) hook() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.enqueue(func() {
			if fn := c.handlers().onState; fn != nil {
				fn(s)
			}
		})
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.enqueue(func() {
			if fn := c.handlers().onICE; fn != nil {
				fn(init)
			}
		})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.enqueue(func() {
			if fn := c.handlers().onTrack; fn != nil {
				fn(track)
			}
		})
	})
}

type handlerSet struct {
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(mesh.RemoteTrack)
}

func (c *Connection) handlers() handlerSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return handlerSet{onICE: c.onICE, onState: c.onState, onTrack: c.onTrack}
}

func (c *Connection) enqueue(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

func (c *Connection) worker() {
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-c.done:
			return
		}
	}
}

func (c *Connection) CreateOffer() (string, error) {
	if err := c.ensureTransceivers(); err != nil {
		return "", err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return offer.SDP, nil
}

func (c *Connection) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

// NeedsNegotiation is true after a track change no offer has carried yet, or
// while a sending transceiver has no negotiated mid.
func (c *Connection) NeedsNegotiation() bool {
	c.mu.Lock()
	dirty := c.dirty
	c.mu.Unlock()
	if dirty {
		return true
	}
	for _, tr := range c.pc.GetTransceivers() {
		if s := tr.Sender(); s != nil && s.Track() != nil && tr.Mid() == "" {
			return true
		}
	}
	return false
}

// AddTrack attaches a local track and drains its RTCP.
func (c *Connection) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	if _, ok := c.senders[t.ID()]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return fmt.Errorf("add track %s: %w", t.ID(), err)
	}
	c.mu.Lock()
	c.senders[t.ID()] = sender
	c.dirty = true
	c.mu.Unlock()
	go drainRTCP(sender)
	return nil
}

func (c *Connection) RemoveTrack(trackID string) error {
	c.mu.Lock()
	sender, ok := c.senders[trackID]
	delete(c.senders, trackID)
	if ok {
		c.dirty = true
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrack, trackID)
	}
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(mesh.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pc.Close()
		if err != nil {
			c.log.Error().Err(err).Msg("close error")
		} else {
			c.log.Info().Msg("closed")
		}
	})
	return err
}

// ensureTransceivers makes every offer carry audio and video sections, so a
// peer that publishes nothing can still receive.
func (c *Connection) ensureTransceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, tr := range c.pc.GetTransceivers() {
		have[tr.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
