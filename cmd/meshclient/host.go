package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/somnesh/NexMeet-sub000/internal/client/admission"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

var (
	flagAutoAccept bool
	flagEndOnExit  bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a meeting, admit guests and join it",
	Long: `Create a meeting with the caller as host, then join it.

Examples:
  meshclient host --user alice
  meshclient host --user alice --auto-accept --video-rtp 127.0.0.1:5006`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adm := admission.New(flagServer, domain.UserID(flagUser), nil)
		room, err := adm.CreateMeeting(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("room", string(room)).Msg("meeting created")

		if flagAutoAccept {
			go admitLoop(ctx, adm, room)
		}
		err = runSession(ctx, room, false)
		if flagEndOnExit {
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if endErr := adm.End(endCtx, room); endErr != nil {
				log.Warn().Err(endErr).Str("room", string(room)).Msg("end meeting")
			} else {
				log.Info().Str("room", string(room)).Msg("meeting ended")
			}
		}
		return err
	},
}

func init() {
	addSessionFlags(hostCmd)
	hostCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "admit every join request")
	hostCmd.Flags().BoolVar(&flagEndOnExit, "end-on-exit", true, "end the meeting for everyone when the host leaves")
}

func admitLoop(ctx context.Context, adm *admission.Client, room domain.RoomID) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reqs, err := adm.Pending(ctx, room)
		if err != nil {
			log.Warn().Err(err).Msg("list join requests")
			continue
		}
		for _, r := range reqs {
			if _, err := adm.Accept(ctx, room, r.ParticipantID); err != nil {
				log.Warn().Err(err).Str("participant", string(r.ParticipantID)).Msg("accept")
				continue
			}
			log.Info().Str("user", string(r.UserID)).Str("name", r.UserName).Msg("admitted")
		}
	}
}
