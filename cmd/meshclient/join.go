package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/somnesh/NexMeet-sub000/internal/client/media"
	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/client/session"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

var (
	flagRoom      string
	flagGrace     time.Duration
	flagAsk       bool
	flagAudioRTP  string
	flagVideoRTP  string
	flagScreenRTP string
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stay until interrupted",
	Long: `Join a room and stay until interrupted.

Examples:
  meshclient join --user alice --room abc-defg-hij
  meshclient join --user bob --room abc-defg-hij --ask --audio-rtp 127.0.0.1:5004`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRoom == "" {
			return fmt.Errorf("--room is required")
		}
		return runSession(cmd.Context(), domain.RoomID(flagRoom), flagAsk)
	},
}

func init() {
	addSessionFlags(joinCmd)
	joinCmd.Flags().StringVar(&flagRoom, "room", "", "meeting code to join")
	joinCmd.Flags().BoolVar(&flagAsk, "ask", false, "ask the host for admission first")
}

func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.DurationVar(&flagGrace, "grace", mesh.DefaultGrace, "how long a disconnected peer may take to recover")
	f.StringVar(&flagAudioRTP, "audio-rtp", "", "UDP address to read Opus RTP from")
	f.StringVar(&flagVideoRTP, "video-rtp", "", "UDP address to read VP8 RTP from")
	f.StringVar(&flagScreenRTP, "screen-rtp", "", "UDP address to read screen VP8 RTP from")
}

func runSession(ctx context.Context, room domain.RoomID, ask bool) error {
	logger := log.With().Str("module", "meshclient").Logger()

	s, err := session.New(session.Config{
		Server: flagServer,
		Room:   room,
		UserID: domain.UserID(flagUser),
		Name:   flagName,
		Codec:  flagCodec,
		Grace:  flagGrace,
		Ask:    ask,
		Logger: logger,
		OnPacket: func(peer domain.PeerID, trackID string, pkt *rtp.Packet) {
			logger.Trace().Str("peer", string(peer)).Str("track", trackID).Uint16("seq", pkt.SequenceNumber).Msg("rtp")
		},
	})
	if err != nil {
		return err
	}
	defer s.Leave()

	s.Aggregator().Subscribe(func(ev media.MediaEvent) {
		logger.Info().
			Str("event", ev.Type.String()).
			Str("peer", string(ev.PeerID)).
			Str("kind", string(ev.Kind)).
			Str("track", ev.TrackID).
			Msg("remote media")
	})
	s.Mesh().Subscribe(mesh.ObserverFuncs{
		StateChange: func(peer domain.PeerID, st mesh.State, err error) {
			lvl := zerolog.InfoLevel
			if err != nil {
				lvl = zerolog.WarnLevel
			}
			logger.WithLevel(lvl).Err(err).Str("peer", string(peer)).Str("state", st.String()).Msg("peer state")
		},
	})

	ingestCtx, cancelIngest := context.WithCancel(ctx)
	defer cancelIngest()
	for kind, addr := range map[domain.MediaKind]string{
		domain.KindAudio:  flagAudioRTP,
		domain.KindVideo:  flagVideoRTP,
		domain.KindScreen: flagScreenRTP,
	} {
		if addr == "" {
			continue
		}
		if err := publishUDP(ingestCtx, s.Publisher(), kind, addr); err != nil {
			return err
		}
	}

	joined, err := s.Join(ctx)
	if err != nil {
		return err
	}
	logger.Info().
		Str("room", string(joined.RoomID)).
		Str("peer", string(joined.PeerID)).
		Int("peers", len(joined.PeerList)).
		Msg("in the room, ctrl-c to leave")

	select {
	case <-ctx.Done():
		logger.Info().Msg("leaving")
	case <-s.Done():
		return fmt.Errorf("signaling closed")
	}
	return nil
}

func publishUDP(ctx context.Context, pub *media.Publisher, kind domain.MediaKind, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s for %s: %w", addr, kind, err)
	}
	track, err := media.NewRTPTrack(kind, media.DefaultCodec(kind), flagUser)
	if err != nil {
		conn.Close()
		return err
	}
	if err := pub.Publish(track, kind); err != nil {
		conn.Close()
		return err
	}
	go func() {
		l := log.With().Str("module", "meshclient").Str("kind", string(kind)).Logger()
		if err := media.IngestUDP(ctx, conn, track, l); err != nil {
			l.Warn().Err(err).Msg("ingest stopped")
		}
	}()
	log.Info().Str("kind", string(kind)).Str("addr", conn.LocalAddr().String()).Msg("publishing")
	return nil
}
