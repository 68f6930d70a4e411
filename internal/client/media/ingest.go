package media

import (
	"context"
	"errors"
	"net"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSink is where ingested RTP goes. *RTPTrack satisfies it.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
	Stop()
}

const maxPacketSize = 1500

// IngestUDP reads RTP datagrams from conn into sink until ctx ends or conn
// fails. The sink is stopped on return, which unpublishes it.
func IngestUDP(ctx context.Context, conn net.PacketConn, sink PacketSink, logger zerolog.Logger) error {
	defer sink.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, maxPacketSize)
	var pkt rtp.Packet
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("ingest read error, stopping")
			return err
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debug().Err(err).Int("bytes", n).Msg("not an RTP packet")
			continue
		}
		if err := sink.WriteRTP(&pkt); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error().Err(err).Msg("ingest write RTP error, stopping")
			return err
		}
	}
}
