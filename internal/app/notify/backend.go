package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ems-pm/project/internal/platform/config"
	"github.com/ems-pm/project/internal/platform/natsutil"
	"github.com/ems-pm/project/internal/platform/redisutil"
	"go.uber.org/zap"
)

const connectTimeout = 30 * time.Second

// Backend is an opened broker plus its readiness probe and teardown.
type Backend struct {
	Name   string
	Broker Broker
	Ready  func(ctx context.Context) error
	close  func()
}

func (b *Backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// Open connects the broker selected by cfg.NotifyBackend.
func Open(ctx context.Context, cfg config.Config, clientName string, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.NotifyBackend {
	case config.BackendLocal, "":
		return &Backend{
			Name:   config.BackendLocal,
			Broker: NewLocalBroker(),
			Ready:  func(context.Context) error { return nil },
		}, nil

	case config.BackendNATS:
		client, err := natsutil.ConnectWithRetry(cfg.NATSURL, clientName, connectTimeout, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("notify backend connected", zap.String("backend", cfg.NotifyBackend), zap.String("url", cfg.NATSURL))
		return &Backend{
			Name:   config.BackendNATS,
			Broker: NATSBroker{Conn: client.Conn},
			Ready:  func(context.Context) error { return client.Ready() },
			close:  client.Close,
		}, nil

	case config.BackendRedis:
		client, err := redisutil.ConnectWithRetry(ctx, cfg.Redis, connectTimeout)
		if err != nil {
			return nil, err
		}
		logger.Info("notify backend connected", zap.String("backend", cfg.NotifyBackend), zap.String("addr", cfg.Redis.Addr))
		broker := NewRedisBroker(client, logger)
		return &Backend{
			Name:   config.BackendRedis,
			Broker: broker,
			Ready:  func(ctx context.Context) error { return client.Ping(ctx).Err() },
			close: func() {
				_ = broker.Close()
				_ = client.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.NotifyBackend)
	}
}
