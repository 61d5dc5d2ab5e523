// Package main is the entry point for the helmsman autonomous trading
// service. It wires the dependency container, starts the broker bridge,
// the cycle runner, the maintenance scheduler, and the dashboard HTTP
// server, then waits for a shutdown signal.
//
// Startup order matters: the event recorder starts first so everything
// that follows is journaled, and it stops last so shutdown itself is
// journaled too. The connection manager runs under a cancellable context
// and is the only component that dials the gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/di"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger so the configuration error itself gets logged.
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting helmsman")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.CloseDatabases()

	// Recorder first: it drains the bus into the journal, and every
	// component constructed above publishes through that bus.
	container.Recorder.Start(container.Bus)

	container.Bridge.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go container.ConnMgr.Run(ctx)

	container.Runner.Start()
	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Overlay:   container.Overlay,
		Runner:    container.Runner,
		Bridge:    container.Bridge,
		Hours:     container.Hours,
		Journal:   container.Journal,
		Trades:    container.TradeRepo,
		Research:  container.ResearchRepo,
		Portfolio: container.PortfolioRepo,
		Reviews:   container.ReviewRepo,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop dialing before tearing anything else down.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Runner.Stop()
	container.Scheduler.Stop()
	container.Bridge.Stop()

	// Recorder last, so the stop events above reach the journal.
	container.Recorder.Stop()

	log.Info().Msg("Shutdown complete")
}
