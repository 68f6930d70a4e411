package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// handleRelay forwards offers, answers and candidates. Messages racing a
// departure are dropped quietly.
func (ctl *SignalWSController) handleRelay(sid core.SessionID, conn *WsSignalConn, m protocol.Targeted) {
	err := ctl.Orch.Relay(sid, m)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrPeerNotFound):
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("relay dropped")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", string(m.Type())).Msg("relay failed")
	}
}
