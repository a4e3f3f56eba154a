package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/rtc"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/channels"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/monitor"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/sigclient"
)

var (
	flagServer   string
	flagRoom     string
	flagSlots    int
	flagSTUN     []string
	flagTURN     []string
	flagTURNUser string
	flagTURNPass string
	flagDebounce time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch every camera in a signalling room",
	Long: `monitor joins a room as the viewing station, negotiates a session
with each camera, and maps every feed onto a numbered display slot. A camera
that reconnects under the same cam id returns to its previous slot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func run(ctx context.Context) error {
	if flagRoom == "" {
		return errors.New("--room is required")
	}

	client := sigclient.NewClient(flagServer)
	if err := client.Connect(); err != nil {
		return err
	}

	m := monitor.New(ctx, client, monitor.Config{
		Room:        domain.RoomID(flagRoom),
		RTC:         rtc.Config(flagSTUN, flagTURN, flagTURNUser, flagTURNPass),
		ICEDebounce: flagDebounce,
		Display:     channels.LogDisplay{},
		SlotCount:   flagSlots,
	})

	log.Info().Str("room", flagRoom).Str("server", flagServer).Int("slots", flagSlots).Msg("monitor started")
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
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
	rootCmd.Flags().IntVar(&flagSlots, "slots", channels.DefaultSlotCount, "number of display slots")
	rootCmd.Flags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	rootCmd.Flags().StringSliceVar(&flagTURN, "turn", nil, "TURN server URLs")
	rootCmd.Flags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	rootCmd.Flags().StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
	rootCmd.Flags().DurationVar(&flagDebounce, "ice-debounce", 3*time.Second, "grace window before a failed session is torn down")

	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("monitor exited")
		os.Exit(1)
	}
}
