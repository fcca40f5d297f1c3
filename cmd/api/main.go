package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"photorestore/internal/bootstrap"
	"photorestore/internal/cache"
	"photorestore/internal/config"
	"photorestore/internal/handlers"
	"photorestore/internal/jobs"
	"photorestore/internal/log"
	"photorestore/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Logging, cfg.Environment)

	ctx := context.Background()

	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open infrastructure")
	}

	svc, err := infra.Build(cfg, logger)
	if err != nil {
		infra.Close(logger)
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, handlers.Services{
		Jobs:     svc.Jobs,
		Credits:  svc.Credits,
		Uploads:  svc.Uploads,
		Images:   svc.Images,
		Payments: svc.Payments,
		Events:   infra.Broker,
		Cache:    infra.Redis,
		Checks:   infra.HealthChecks(),
	})
	httpServer, err := server.New(cfg, logger, handlerSet)
	if err != nil {
		infra.Close(logger)
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(infra.Producer, cfg.Jobs.SweepSchedule, logger).
		WithLock(cache.NewTickLock(infra.Redis, "scheduler"))
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, infra)
}

func waitForShutdown(logger zerolog.Logger, srv *server.Server, scheduler *jobs.Scheduler, infra *bootstrap.Infra) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()
	infra.Close(logger)

	logger.Info().Msg("server exited cleanly")
}
