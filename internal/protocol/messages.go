// Package protocol defines the signaling messages exchanged between mesh
// clients and the relay. The set of variants is closed: every message type
// is one struct below and nothing outside this package can add another.
package protocol

import (
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type Type string

const (
	TypeJoinRoom     Type = "joinRoom"
	TypeRoomJoined   Type = "roomJoined"
	TypePeerJoined   Type = "peerJoined"
	TypePeerLeft     Type = "peerLeft"
	TypeOffer        Type = "webrtc-offer"
	TypeAnswer       Type = "webrtc-answer"
	TypeICECandidate Type = "webrtc-ice-candidate"
	TypeLeaveRoom    Type = "leaveRoom"
	TypeLeft         Type = "left"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeError        Type = "error"
)

// Message is implemented only by the variants in this file.
type Message interface {
	Type() Type
	isMessage()
}

// Targeted is a negotiation message addressed to one peer.
type Targeted interface {
	Message
	Target() domain.PeerID
	// From returns a copy tagged with the sender and stripped of the target.
	From(domain.PeerID) Targeted
}

type PeerInfo struct {
	ID     domain.PeerID `json:"id" msgpack:"id"`
	UserID domain.UserID `json:"userId" msgpack:"userId"`
	Name   string        `json:"name" msgpack:"name"`
}

type JoinRoom struct {
	RoomID domain.RoomID `json:"roomId" msgpack:"roomId"`
	UserID domain.UserID `json:"userId" msgpack:"userId"`
	Name   string        `json:"name" msgpack:"name"`
}

type RoomJoined struct {
	PeerID     domain.PeerID `json:"peerId" msgpack:"peerId"`
	RoomID     domain.RoomID `json:"roomId" msgpack:"roomId"`
	ICEServers []ICEServer   `json:"iceServers" msgpack:"iceServers"`
	PeerList   []PeerInfo    `json:"peerList" msgpack:"peerList"`
}

type PeerJoined struct {
	PeerID domain.PeerID `json:"peerId" msgpack:"peerId"`
	UserID domain.UserID `json:"userId" msgpack:"userId"`
	Name   string        `json:"name" msgpack:"name"`
}

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId" msgpack:"peerId"`
}

type Offer struct {
	TargetPeerID domain.PeerID `json:"targetPeerId,omitempty" msgpack:"targetPeerId,omitempty"`
	FromPeerID   domain.PeerID `json:"fromPeerId,omitempty" msgpack:"fromPeerId,omitempty"`
	SDP          string        `json:"sdp" msgpack:"sdp"`
}

type Answer struct {
	TargetPeerID domain.PeerID `json:"targetPeerId,omitempty" msgpack:"targetPeerId,omitempty"`
	FromPeerID   domain.PeerID `json:"fromPeerId,omitempty" msgpack:"fromPeerId,omitempty"`
	SDP          string        `json:"sdp" msgpack:"sdp"`
}

type ICECandidate struct {
	TargetPeerID domain.PeerID `json:"targetPeerId,omitempty" msgpack:"targetPeerId,omitempty"`
	FromPeerID   domain.PeerID `json:"fromPeerId,omitempty" msgpack:"fromPeerId,omitempty"`
	Candidate    Candidate     `json:"candidate" msgpack:"candidate"`
}

// Candidate mirrors RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

type LeaveRoom struct {
	RoomID domain.RoomID `json:"roomId" msgpack:"roomId"`
	UserID domain.UserID `json:"userId" msgpack:"userId"`
}

type Left struct{}

type Ping struct{}

type Pong struct{}

type ErrorCode string

const (
	CodeBadPayload    ErrorCode = "bad_payload"
	CodeNotInRoom     ErrorCode = "not_in_room"
	CodeJoinRejected  ErrorCode = "join_rejected"
	CodeJoinPending   ErrorCode = "join_pending"
	CodeAlreadyJoined ErrorCode = "already_joined"
	CodeForbidden     ErrorCode = "forbidden"
	CodeMeetingEnded  ErrorCode = "meeting_ended"
)

type Error struct {
	Code    ErrorCode `json:"code" msgpack:"code"`
	Message string    `json:"message" msgpack:"message"`
}

func (JoinRoom) Type() Type     { return TypeJoinRoom }
func (RoomJoined) Type() Type   { return TypeRoomJoined }
func (PeerJoined) Type() Type   { return TypePeerJoined }
func (PeerLeft) Type() Type     { return TypePeerLeft }
func (Offer) Type() Type        { return TypeOffer }
func (Answer) Type() Type       { return TypeAnswer }
func (ICECandidate) Type() Type { return TypeICECandidate }
func (LeaveRoom) Type() Type    { return TypeLeaveRoom }
func (Left) Type() Type         { return TypeLeft }
func (Ping) Type() Type         { return TypePing }
func (Pong) Type() Type         { return TypePong }
func (Error) Type() Type        { return TypeError }

func (JoinRoom) isMessage()     {}
func (RoomJoined) isMessage()   {}
func (PeerJoined) isMessage()   {}
func (PeerLeft) isMessage()     {}
func (Offer) isMessage()        {}
func (Answer) isMessage()       {}
func (ICECandidate) isMessage() {}
func (LeaveRoom) isMessage()    {}
func (Left) isMessage()         {}
func (Ping) isMessage()         {}
func (Pong) isMessage()         {}
func (Error) isMessage()        {}

func (m Offer) Target() domain.PeerID        { return m.TargetPeerID }
func (m Answer) Target() domain.PeerID       { return m.TargetPeerID }
func (m ICECandidate) Target() domain.PeerID { return m.TargetPeerID }

func (m Offer) From(p domain.PeerID) Targeted {
	m.TargetPeerID, m.FromPeerID = "", p
	return m
}

func (m Answer) From(p domain.PeerID) Targeted {
	m.TargetPeerID, m.FromPeerID = "", p
	return m
}

func (m ICECandidate) From(p domain.PeerID) Targeted {
	m.TargetPeerID, m.FromPeerID = "", p
	return m
}

type decodeFunc func(unmarshal func([]byte, any) error, raw []byte) (Message, error)

func decodeAs[T Message](unmarshal func([]byte, any) error, raw []byte) (Message, error) {
	var m T
	if len(raw) == 0 {
		return m, nil
	}
	if err := unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var decoders = map[Type]decodeFunc{
	TypeJoinRoom:     decodeAs[JoinRoom],
	TypeRoomJoined:   decodeAs[RoomJoined],
	TypePeerJoined:   decodeAs[PeerJoined],
	TypePeerLeft:     decodeAs[PeerLeft],
	TypeOffer:        decodeAs[Offer],
	TypeAnswer:       decodeAs[Answer],
	TypeICECandidate: decodeAs[ICECandidate],
	TypeLeaveRoom:    decodeAs[LeaveRoom],
	TypeLeft:         decodeAs[Left],
	TypePing:         decodeAs[Ping],
	TypePong:         decodeAs[Pong],
	TypeError:        decodeAs[Error],
}
