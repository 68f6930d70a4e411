package domain

import "errors"

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrRoomIDEmpty     = errors.New("room id empty")
)

// Session-layer taxonomy. Relay paths absorb ErrRoomNotFound and
// ErrPeerNotFound; the rest surface to the caller.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrForbidden         = errors.New("forbidden")
	ErrJoinRejected      = errors.New("join rejected")
	ErrJoinPending       = errors.New("join request pending")
	ErrAlreadyJoined     = errors.New("already in room")
	ErrAdmissionRequired = errors.New("room requires host admission")
	ErrRequestNotFound   = errors.New("join request not found")
	ErrMeetingEnded      = errors.New("meeting ended")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrRateLimited       = errors.New("too many join requests")
	ErrBackpressure      = errors.New("backpressure")
	ErrSessionClosed     = errors.New("session closed")
)
