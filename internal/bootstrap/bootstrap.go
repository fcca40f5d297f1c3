// Package bootstrap opens the shared infrastructure and assembles the
// services every binary runs on.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"photorestore/internal/cache"
	"photorestore/internal/config"
	"photorestore/internal/database"
	"photorestore/internal/events"
	"photorestore/internal/handlers"
	"photorestore/internal/payments"
	"photorestore/internal/prediction"
	"photorestore/internal/queue"
	"photorestore/internal/repository"
	"photorestore/internal/service"
	"photorestore/internal/storage"
)

// Infra holds the connections a process owns.
type Infra struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Store    *storage.ObjectStore
	Producer *queue.Producer
	Broker   *events.RedisBroker

	closers []func() error
}

// Open connects to Postgres, Redis and object storage.
func Open(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*Infra, error) {
	infra := &Infra{}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	infra.Pool = pool
	infra.closers = append(infra.closers, func() error { pool.Close(); return nil })

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		infra.Close(log)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	infra.Redis = redisClient
	infra.closers = append(infra.closers, redisClient.Close)

	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		infra.Close(log)
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure buckets failed")
	}
	infra.Store = store

	infra.Producer = queue.NewProducer(redisClient, cfg.Redis.Stream)
	infra.Broker = events.NewRedisBroker(redisClient)
	return infra, nil
}

// Close releases connections in reverse order of opening.
func (i *Infra) Close(log zerolog.Logger) {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			log.Error().Err(err).Msg("close failed")
		}
	}
	i.closers = nil
}

// Services is the assembled service layer.
type Services struct {
	Jobs     *service.JobService
	Credits  *service.CreditService
	Uploads  *service.UploadService
	Images   *service.ImageService
	Payments *service.PaymentService
}

// Build wires repositories, upstream clients and event publishers into the
// services. Optional integrations that are not configured are left out.
func (i *Infra) Build(cfg *config.AppConfig, log zerolog.Logger) (Services, error) {
	jobRepo := repository.NewJobRepository(i.Pool)
	creditRepo := repository.NewCreditRepository(i.Pool)
	imageRepo := repository.NewImageRepository(i.Pool)
	billingRepo := repository.NewBillingRepository(i.Pool)

	var predictor service.Predictor
	client, err := prediction.NewClient(cfg.Prediction, nil)
	switch {
	case errors.Is(err, prediction.ErrNotConfigured):
		log.Warn().Msg("prediction service not configured; restorations will fail to start")
		predictor = unconfiguredPredictor{}
	case err != nil:
		return Services{}, fmt.Errorf("prediction client: %w", err)
	default:
		predictor = client
	}

	analytics, closeAnalytics, err := events.NewAnalytics(cfg.Analytics)
	if err != nil {
		return Services{}, fmt.Errorf("analytics: %w", err)
	}
	i.closers = append(i.closers, closeAnalytics)

	credits := service.NewCreditService(creditRepo, log.With().Str("component", "credits").Logger())
	svc := Services{
		Credits: credits,
		Jobs: service.NewJobService(service.JobServiceDeps{
			Jobs:      jobRepo,
			Images:    imageRepo,
			Storage:   i.Store,
			Predictor: predictor,
			Tasks:     i.Producer,
			Events:    events.Fanout{i.Broker, analytics},
		}, cfg.Jobs, log.With().Str("component", "jobs").Logger()),
		Uploads: service.NewUploadService(i.Store, cfg.Storage, log.With().Str("component", "uploads").Logger()),
		Images:  service.NewImageService(imageRepo, i.Store, cfg.Storage.SignedURLTTL, log.With().Str("component", "images").Logger()),
	}

	gateway, err := payments.NewStripe(cfg.Payments, nil)
	switch {
	case errors.Is(err, payments.ErrNotConfigured):
		log.Warn().Msg("stripe not configured; checkout disabled")
	case err != nil:
		return Services{}, fmt.Errorf("stripe: %w", err)
	default:
		svc.Payments = service.NewPaymentService(billingRepo, gateway, cfg.Payments, log.With().Str("component", "payments").Logger())
	}
	return svc, nil
}

// HealthChecks pings each dependency.
func (i *Infra) HealthChecks() map[string]handlers.HealthCheck {
	return map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return i.Pool.Ping(ctx) },
		"redis":    func(ctx context.Context) error { return i.Redis.Ping(ctx).Err() },
		"storage":  i.Store.Ping,
	}
}

type unconfiguredPredictor struct{}

func (unconfiguredPredictor) Create(context.Context, string, string) (prediction.Prediction, error) {
	return prediction.Prediction{}, prediction.ErrNotConfigured
}

func (unconfiguredPredictor) Cancel(context.Context, string) error {
	return prediction.ErrNotConfigured
}
