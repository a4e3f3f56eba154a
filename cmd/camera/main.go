package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/rtc"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/camera"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/sigclient"
)

var (
	flagServer   string
	flagRoom     string
	flagCam      string
	flagSTUN     []string
	flagTURN     []string
	flagTURNUser string
	flagTURNPass string
	flagDebounce time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "camera",
	Short: "Publish a camera feed into a signalling room",
	Long: `camera joins a room under a stable cam id and streams a synthetic
video track to every viewer that negotiates a session with it. The cam id
survives process restarts, so viewers keep the feed on the same display slot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func run(ctx context.Context) error {
	if flagRoom == "" {
		return errors.New("--room is required")
	}
	if flagCam == "" {
		flagCam = uuid.NewString()
		log.Info().Str("cam", flagCam).Msg("no cam id given, generated one")
	}
	if err := domain.ValidCamID(domain.CamID(flagCam)); err != nil {
		return err
	}

	client := sigclient.NewClient(flagServer)
	if err := client.Connect(); err != nil {
		return err
	}

	track, err := camera.NewPatternTrack(flagCam)
	if err != nil {
		return err
	}
	source := camera.NewPatternSource(track)
	go source.Run(ctx)

	pub := camera.New(ctx, client, camera.Config{
		Room:        domain.RoomID(flagRoom),
		Cam:         domain.CamID(flagCam),
		RTC:         rtc.Config(flagSTUN, flagTURN, flagTURNUser, flagTURNPass),
		ICEDebounce: flagDebounce,
		Track:       track,
	})

	log.Info().Str("room", flagRoom).Str("cam", flagCam).Str("server", flagServer).Msg("camera started")
	if err := pub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:8080/api/ws/signal", "signalling server WebSocket URL")
	rootCmd.Flags().StringVar(&flagRoom, "room", "", "room to join")
	rootCmd.Flags().StringVar(&flagCam, "cam", "", "stable camera id (generated when empty)")
	rootCmd.Flags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	rootCmd.Flags().StringSliceVar(&flagTURN, "turn", nil, "TURN server URLs")
	rootCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	rootCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
	rootCmd.Flags().DurationVar(&flagDebounce, "ice-debounce", 3*time.Second, "grace window before a failed session is torn down")

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("camera exited")
		os.Exit(1)
	}
}
