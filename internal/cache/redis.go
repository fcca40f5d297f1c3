package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"photorestore/internal/config"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// TickLock hands each named tick to exactly one replica.
type TickLock struct {
	client setNXer
	prefix string
	owner  string
}

func NewTickLock(client setNXer, prefix string) *TickLock {
	owner, err := os.Hostname()
	if err != nil || owner == "" {
		owner = "unknown"
	}
	return &TickLock{client: client, prefix: prefix, owner: owner}
}

// Acquire claims the tick at the given second. It reports false when another
// replica already holds it.
func (l *TickLock) Acquire(ctx context.Context, name string, tick time.Time, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s:%d", l.prefix, name, tick.Unix())
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}
