package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChilliRoger/den-day/internal/config"
	"github.com/ChilliRoger/den-day/internal/logging"
	"github.com/ChilliRoger/den-day/internal/metrics"
	"github.com/ChilliRoger/den-day/internal/room"
	"github.com/ChilliRoger/den-day/internal/server"
	"github.com/ChilliRoger/den-day/internal/signaling"
	"github.com/ChilliRoger/den-day/internal/version"
)

func main() {
	cfg, err := config.LoadServer(".env")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel, slog.LevelInfo), cfg.LogFormat)
	slog.SetDefault(logger)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	rooms := room.NewRegistry[*signaling.Client](room.WithRetention(cfg.RoomRetention), room.WithLogger(logger))
	hub := signaling.NewHub(rooms, m, logger, signaling.Options{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		SendBuffer:    cfg.SendBuffer,
		SweepInterval: cfg.SweepInterval,
	})
	go hub.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: server.NewRouter(server.Deps{
			Hub:            hub,
			Metrics:        m,
			Log:            logger,
			AllowedOrigins: cfg.AllowedOrigins,
			Started:        time.Now(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Signaling server listening", "addr", cfg.Addr, "origins", cfg.AllowedOrigins, "version", version.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server crashed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
	logger.Info("Server closed")
}
