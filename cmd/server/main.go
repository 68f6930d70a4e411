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

	router "github.com/somnesh/NexMeet-sub000/internal/adapters/http"
	"github.com/somnesh/NexMeet-sub000/internal/app"
	"github.com/somnesh/NexMeet-sub000/internal/app/admission"
	"github.com/somnesh/NexMeet-sub000/internal/app/orch"
	"github.com/somnesh/NexMeet-sub000/internal/config"
	"github.com/somnesh/NexMeet-sub000/internal/core"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	bus := events.NewBus(cfg.SendBuffer)
	adm := admission.NewController(bus,
		admission.NewRoomRateLimiter(cfg.Admission.RateLimit, cfg.Admission.RateInterval))

	o := &orch.Orchestrator{
		Sessions:   app.NewSessionRegistry(),
		Rooms:      core.NewRegistry(),
		Admission:  adm,
		Events:     bus,
		Policy:     app.SimplePolicy{},
		ICEServers: cfg.ICE.Servers(),
	}

	go sweep(ctx, o, adm, cfg.Admission.RoomTTL)

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Admission: adm, Bus: bus})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Int("ice_servers", len(o.ICEServers)).Msg("NexMeet signaling server started")
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

// sweep drops reserved rooms that never got a peer and admission state of
// rooms that stayed empty for ttl.
func sweep(ctx context.Context, o *orch.Orchestrator, adm *admission.Controller, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			o.Rooms.PruneEmpty(now.Add(-time.Minute))
			adm.Sweep(now.Add(-ttl), func(id domain.RoomID) bool {
				_, ok := o.Rooms.Room(id)
				return ok
			})
		}
	}
}
