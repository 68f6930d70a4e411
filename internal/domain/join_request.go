package domain

import "time"

type ParticipantID string

type JoinStatus string

const (
	JoinNotRequested JoinStatus = "NOT_REQUESTED"
	JoinPending      JoinStatus = "PENDING"
	JoinAccepted     JoinStatus = "ACCEPTED"
	JoinRejected     JoinStatus = "REJECTED"
)

// Terminal reports whether no further host action can change the status.
func (s JoinStatus) Terminal() bool {
	return s == JoinAccepted || s == JoinRejected
}

type JoinRequest struct {
	ParticipantID ParticipantID `json:"participantId,omitempty"`
	RoomID        RoomID        `json:"roomId"`
	UserID        UserID        `json:"userId"`
	UserName      string        `json:"userName"`
	RequestedAt   time.Time     `json:"requestedAt"`
	ResolvedAt    time.Time     `json:"resolvedAt,omitzero"`
	Status        JoinStatus    `json:"status"`
}
