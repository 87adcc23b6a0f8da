// Package transport selects the pull network backend the gateway runs on.
package transport

import (
	"context"
	"fmt"
	"time"

	"ccngate/internal/core/ports"
	"ccngate/internal/infrastructure/transport/memory"
	redistransport "ccngate/internal/infrastructure/transport/redis"
	"ccngate/pkg/config"
	"ccngate/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

var connectRetry = retry.Config{
	Enabled:      true,
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
	Jitter:       true,
}

// Factory opens faces onto one shared network. A redis backend that cannot
// be reached falls back to the in-process network.
type Factory struct {
	kind        string
	network     *memory.Network
	redisClient *redis.Client
	redisCfg    redistransport.Config
	notifier    ports.Notifier
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{
		kind:   cfg.Transport.Kind,
		logger: logger,
	}

	switch cfg.Transport.Kind {
	case KindRedis:
		client, err := retry.DoWithResult(context.Background(), connectRetry, func() (*redis.Client, error) {
			return redistransport.NewClient(
				cfg.Redis.Address,
				cfg.Redis.Password,
				cfg.Redis.DB,
				cfg.Redis.PoolSize,
				logger,
			)
		})
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory transport",
				"error", err,
			)
			factory.kind = KindMemory
			break
		}
		factory.redisClient = client
		factory.redisCfg = redistransport.DefaultConfig()
		factory.redisCfg.InterestLifetime = cfg.Transport.InterestLifetime
		factory.redisCfg.PollInterval = cfg.Transport.PollInterval
		factory.notifier = redistransport.NewNotifier(client, logger)
	case KindMemory:
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	if factory.kind == KindMemory {
		memCfg := memory.DefaultConfig()
		memCfg.InterestLifetime = cfg.Transport.InterestLifetime
		factory.network = memory.NewNetwork(memCfg, logger)
		factory.notifier = factory.network
	}

	logger.Infow("Transport ready", "kind", factory.kind)
	return factory, nil
}

func (f *Factory) Kind() string {
	return f.kind
}

// NewFace opens a fresh face. Every consumer gets its own so that closing
// one does not cancel another's requests.
func (f *Factory) NewFace() (ports.Transport, error) {
	if f.redisClient != nil {
		return redistransport.NewFace(f.redisClient, f.redisCfg, f.logger)
	}
	return f.network.NewFace(), nil
}

func (f *Factory) Notifier() ports.Notifier {
	return f.notifier
}

// RedisClient is nil unless the redis backend is in use.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.network != nil {
		f.network.Close()
	}
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
