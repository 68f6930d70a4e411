package media

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"

	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
)

// Drain reads track until it ends or ctx is cancelled, passing packets to
// sink when set. It returns the number of packets read. io.EOF is a normal end.
func Drain(ctx context.Context, track mesh.RemoteTrack, sink func(*rtp.Packet)) (int, error) {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, nil
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
		if sink != nil {
			sink(pkt)
		}
	}
}
