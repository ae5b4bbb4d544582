package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ticketpay/internal/clock"
	"github.com/smallbiznis/ticketpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewBackend),
	fx.Provide(NewLimiter),
)

type BackendResult struct {
	fx.Out

	Store  Store
	Locker Locker
}

// NewBackend selects the window store and locker. Both share one redis client
// when the redis backend is configured.
func NewBackend(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) (BackendResult, error) {
	switch cfg.RateLimitBackend {
	case BackendMemory:
		log.Warn("rate limiter running in memory; limits are per process")
		return BackendResult{
			Store:  NewMemoryStore(clk),
			Locker: NewMemoryLocker(clk),
		}, nil
	case BackendRedis, "":
		addr := strings.TrimSpace(cfg.RedisAddr)
		if addr == "" {
			return BackendResult{}, errors.New("rate limit redis addr is required")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("rate limit redis ping: %w", err)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		return BackendResult{
			Store:  NewRedisStore(client),
			Locker: NewRedisLocker(client),
		}, nil
	default:
		return BackendResult{}, fmt.Errorf("unsupported rate limit backend %q", cfg.RateLimitBackend)
	}
}
