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

	router "github.com/ripplechat/ripple/internal/adapters/http"
	"github.com/ripplechat/ripple/internal/adapters/ws"
	"github.com/ripplechat/ripple/internal/app"
	"github.com/ripplechat/ripple/internal/config"
	"github.com/ripplechat/ripple/internal/store"
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
		log.Error().Err(err).Msg("failed to load config")
	}

	reg := app.NewRegistry()
	relay := app.NewRelay(reg, app.DropPolicy{})
	presence := app.NewPresenceTracker(relay, cfg.PresenceWindow)
	typing := app.NewTypingTracker(relay, cfg.TypingTTL)
	messages := store.NewClient(cfg.StoreURL)
	chat := app.NewChatPipeline(relay, typing, messages)
	calls := app.NewCallCoordinator(relay, cfg.RingTimeout)

	go presence.Run(ctx)

	ctl := ws.NewController(cfg, reg, relay, presence, chat, typing, calls)
	r := router.SetupRouter(ctx, cfg, ctl, presence)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Ripple relay started")
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
