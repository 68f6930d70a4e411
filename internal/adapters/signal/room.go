package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// handleJoin admits the session into a room as the user the HTTP layer
// resolved for the socket. A payload userId naming anyone else is refused.
func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, meta *domain.Member, p protocol.JoinRoom) {
	if p.RoomID == "" {
		ctl.sendError(conn, protocol.CodeBadPayload, domain.ErrRoomIDEmpty.Error())
		return
	}
	id := meta.User.ID
	switch {
	case id == "":
		id = p.UserID
	case p.UserID != "" && p.UserID != id:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("user", string(id)).Str("claimed", string(p.UserID)).Msg("join as another user refused")
		ctl.sendError(conn, protocol.CodeForbidden, domain.ErrForbidden.Error())
		return
	}
	name := p.Name
	if name == "" {
		name = string(id)
	}
	user, err := domain.NewUser(id, name)
	if err != nil {
		ctl.sendError(conn, protocol.CodeBadPayload, err.Error())
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).Str("user", string(user.ID)).Msg("join")
	if _, err := ctl.Orch.Join(sid, p.RoomID, *user); err != nil {
		ctl.sendError(conn, joinErrorCode(err), err.Error())
	}
}

func joinErrorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrJoinRejected):
		return protocol.CodeJoinRejected
	case errors.Is(err, domain.ErrJoinPending), errors.Is(err, domain.ErrAdmissionRequired):
		return protocol.CodeJoinPending
	case errors.Is(err, domain.ErrAlreadyJoined):
		return protocol.CodeAlreadyJoined
	case errors.Is(err, domain.ErrForbidden):
		return protocol.CodeForbidden
	case errors.Is(err, domain.ErrMeetingEnded):
		return protocol.CodeMeetingEnded
	default:
		return protocol.CodeBadPayload
	}
}

// handleLeave exits the current room; the socket stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	if _, ok := ctl.Orch.Leave(sid); !ok {
		ctl.sendError(conn, protocol.CodeNotInRoom, "not in a room")
		return
	}
	ctl.send(conn, protocol.Left{})
}
