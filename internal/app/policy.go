package app

import "github.com/somnesh/NexMeet-sub000/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a peer whose outbound signaling queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks every slow peer.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID, core.MemberSession) BackpressureAction {
	return KickMember
}
