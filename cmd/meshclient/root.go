package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

var (
	flagServer   string
	flagUser     string
	flagName     string
	flagCodec    string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshclient",
	Short: "Headless full-mesh meeting participant",
	Long: `meshclient joins a NexMeet room as a headless participant. It negotiates a
direct WebRTC connection with every other peer, publishes RTP it receives on
local UDP ports and logs the media it gets back.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		if _, err := protocol.CodecFor(flagCodec); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "http://localhost:8080", "relay base URL")
	pf.StringVar(&flagUser, "user", "", "user id sent as X-User-Id (required)")
	pf.StringVar(&flagName, "name", "", "display name (defaults to the user id)")
	pf.StringVar(&flagCodec, "codec", protocol.SubprotocolJSON, "signaling codec: json or msgpack")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level")
	_ = rootCmd.MarkPersistentFlagRequired("user")

	rootCmd.AddCommand(joinCmd, hostCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("meshclient")
		stop()
		os.Exit(1)
	}
}
