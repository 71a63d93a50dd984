package pubsub

import (
	"context"
	"log/slog"

	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

// FallbackChannel stands in for a channel that could not be opened. The peer
// keeps working locally; nothing leaves it.
type FallbackChannel struct {
	name  string
	cause error
	log   *slog.Logger
}

func NewFallback(name string, cause error, logger *slog.Logger) *FallbackChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackChannel{name: name, cause: cause, log: logger}
}

func (c *FallbackChannel) Name() string { return c.name }

// Cause is the open error that put the channel in degraded mode.
func (c *FallbackChannel) Cause() error { return c.cause }

func (c *FallbackChannel) Publish(ctx context.Context, env common.Envelope) error {
	c.log.Debug("fallback channel: skipped publish",
		slog.String("channel", c.name),
		slog.String("type", env.Meta.Type),
	)
	return nil
}

func (c *FallbackChannel) Subscribe(Handler) error { return nil }

func (c *FallbackChannel) Close() error { return nil }
