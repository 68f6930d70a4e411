// Package mesh owns one negotiated media connection per remote peer of a
// full-mesh call and drives each through its offer/answer state machine.
package mesh

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type State int

const (
	StateNew State = iota
	StateOffering
	StateAnswering
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateOffering:
		return "OFFERING"
	case StateAnswering:
		return "ANSWERING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Signaler is the manager's only way to reach other peers.
type Signaler interface {
	SendOffer(to domain.PeerID, sdp string) error
	SendAnswer(to domain.PeerID, sdp string) error
	SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error
}

// RemoteTrack is an inbound track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MediaConnection is one peer-to-peer transport. Implementations must not
// invoke the registered callbacks synchronously from their own methods.
type MediaConnection interface {
	// CreateOffer creates an offer, applies it locally and returns its SDP.
	CreateOffer() (string, error)
	// CreateAnswer creates an answer, applies it locally and returns its SDP.
	CreateAnswer() (string, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// Rollback discards a local offer that lost a collision.
	Rollback() error
	SignalingState() webrtc.SignalingState
	// NeedsNegotiation reports local tracks not yet covered by an SDP exchange.
	NeedsNegotiation() bool

	AddTrack(webrtc.TrackLocal) error
	RemoveTrack(trackID string) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))

	Close() error
}

// ConnectionFactory builds the connection towards peer.
type ConnectionFactory func(peer domain.PeerID, iceServers []webrtc.ICEServer) (MediaConnection, error)

// Observer receives per-peer lifecycle events. Events of one peer arrive in
// the order they happened; observers must not block.
type Observer interface {
	OnStateChange(peer domain.PeerID, state State, err error)
	OnTrack(peer domain.PeerID, track RemoteTrack)
	OnPeerClosed(peer domain.PeerID)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	StateChange func(domain.PeerID, State, error)
	Track       func(domain.PeerID, RemoteTrack)
	PeerClosed  func(domain.PeerID)
}

func (f ObserverFuncs) OnStateChange(p domain.PeerID, s State, err error) {
	if f.StateChange != nil {
		f.StateChange(p, s, err)
	}
}

func (f ObserverFuncs) OnTrack(p domain.PeerID, t RemoteTrack) {
	if f.Track != nil {
		f.Track(p, t)
	}
}

func (f ObserverFuncs) OnPeerClosed(p domain.PeerID) {
	if f.PeerClosed != nil {
		f.PeerClosed(p)
	}
}
