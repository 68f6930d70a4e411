package core

import "github.com/somnesh/NexMeet-sub000/internal/protocol"

// SignalConnection abstracts the signaling transport of one peer.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// Send enqueues m without blocking. A full queue yields domain.ErrBackpressure.
	Send(m protocol.Message) error
	Close()
}
