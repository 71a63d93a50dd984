package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roboricindustries/raycon-drag/pkg/config"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub/rabbit"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub/redisbus"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub/wsrelay"
)

// dialTransport connects the backend named by cfg.Transport.Kind. The memory
// bus only reaches peers in this process, which makes it a loopback for
// local runs.
func dialTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (pubsub.Transport, error) {
	tc := cfg.Transport
	switch tc.Kind {
	case config.KindMemory:
		return pubsub.NewMemoryBus().Transport(cfg.PeerID), nil
	case config.KindRabbitMQ:
		return rabbit.Dial(ctx, rabbit.Config{
			URL:             tc.URL,
			PeerID:          cfg.PeerID,
			ExchangePrefix:  tc.Prefix,
			PublishPoolSize: tc.PoolSize,
			DialAttempts:    tc.RetryAttempts,
			DialRetryDelay:  tc.RetryDelay,
		}, logger)
	case config.KindRedis:
		return redisbus.Dial(ctx, redisbus.Config{
			Addr:           tc.URL,
			Prefix:         tc.Prefix,
			PeerID:         cfg.PeerID,
			DialAttempts:   tc.RetryAttempts,
			DialRetryDelay: tc.RetryDelay,
		}, logger)
	case config.KindWebSocket:
		return wsrelay.Dial(ctx, tc.URL, cfg.PeerID, logger)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", tc.Kind)
	}
}
