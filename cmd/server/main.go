package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/http"
	wssignal "github.com/ptkim-ran/webrtc-signalling-server/internal/adapters/signal"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/app"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/config"
	"github.com/ptkim-ran/webrtc-signalling-server/internal/turncred"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	reg := app.NewRegistry(cfg.RoomCapacity)
	relay := app.NewRelay(reg)
	orch := app.NewOrchestrator(reg, relay)

	joins := wssignal.NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinWindow)
	ctl := wssignal.NewSignalWSController(orch, joins, cfg.ReadLimit, cfg.PingPeriod)

	var turn *turncred.Generator
	if cfg.Turn.Secret != "" {
		turn, err = turncred.NewGenerator(turncred.GeneratorConfig{
			Secret: cfg.Turn.Secret,
			User:   cfg.Turn.Username,
			Realm:  cfg.Turn.Realm,
			TTL:    cfg.Turn.TTL,
		})
		if err != nil {
			log.Error().Err(err).Msg("turn credentials disabled")
			turn = nil
		}
	}

	r := router.SetupRouter(ctx, cfg, ctl, turn)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("signalling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
