package rabbit

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
)

// Config holds the broker connection and topology settings.
type Config struct {
	URL string
	// PeerID is stamped as AppId on every publish; deliveries carrying it are
	// skipped by this peer's consumers.
	PeerID string
	// ExchangePrefix is prepended to channel names to form exchange names.
	ExchangePrefix string

	PublishPoolSize             int
	ConnTimeoutSeconds          int
	PoolRetryDelayMs            int
	DialAttempts                int
	DialRetryDelay              time.Duration
	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int
	Dialer                      func(ctx context.Context, url string) (*amqp.Connection, error)
}

const DefaultExchangePrefix = "raycon.drag."

func (c Config) withDefaults() Config {
	c.ExchangePrefix = pubsub.FirstNonEmpty(c.ExchangePrefix, DefaultExchangePrefix)
	if c.PublishPoolSize <= 0 {
		c.PublishPoolSize = 16
	}
	if c.ConnTimeoutSeconds <= 0 {
		c.ConnTimeoutSeconds = 30
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.DialRetryDelay <= 0 {
		c.DialRetryDelay = time.Second
	}
	if c.Dialer == nil {
		c.Dialer = func(_ context.Context, u string) (*amqp.Connection, error) { return amqp.Dial(u) }
	}
	return c
}

// Exchange is the fanout exchange carrying the named channel.
func (c Config) Exchange(name string) string { return c.ExchangePrefix + name }
