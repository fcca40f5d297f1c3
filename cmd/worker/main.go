package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"photorestore/internal/bootstrap"
	"photorestore/internal/config"
	"photorestore/internal/log"
	"photorestore/internal/queue"
	"photorestore/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Logging, cfg.Environment).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open infrastructure")
	}
	defer infra.Close(logger)

	svc, err := infra.Build(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build services")
		return
	}

	processor := tasks.NewProcessor(tasks.Deps{
		Sweeper:   svc.Jobs,
		Canceller: svc.Jobs,
		Results:   svc.Images,
		Storage:   infra.Store,
	}, logger)

	name := cfg.Redis.Consumer
	if host, err := os.Hostname(); err == nil && name == "" {
		name = host
	}
	consumer := queue.NewConsumer(infra.Redis, queue.ConsumerOptions{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Name:          name,
		ClaimInterval: cfg.Queues.ClaimInterval,
		MaxDeliveries: cfg.Queues.MaxDeliveries,
	}, logger, processor)

	logger.Info().Str("stream", cfg.Redis.Stream).Str("group", cfg.Redis.Group).Msg("worker started")
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
