package signal

import "github.com/somnesh/NexMeet-sub000/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, protocol.Pong{})
}
