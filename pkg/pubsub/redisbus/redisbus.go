// Package redisbus carries drag channels over Redis pub/sub. Each channel
// name maps to one Redis channel; a peer skips envelopes it produced.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to channel names.
	Prefix string
	// PeerID matches common.Meta.Producer of this peer's envelopes.
	PeerID         string
	DialAttempts   int
	DialRetryDelay time.Duration
}

const (
	DefaultAddr   = "localhost:6379"
	DefaultPrefix = "raycon:drag:"
)

type Transport struct {
	rdb    redis.UniversalClient
	prefix string
	peerID string
	log    *slog.Logger

	mu       sync.Mutex
	channels map[*channel]struct{}
	closed   bool
}

var _ pubsub.Transport = (*Transport)(nil)

// Dial connects to Redis and waits for a successful PING.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	const op = "redisbus.Dial"
	cfg.Addr = pubsub.FirstNonEmpty(cfg.Addr, DefaultAddr)
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	err := pubsub.Retry(ctx, pubsub.RetryOptions{
		Attempts: cfg.DialAttempts,
		Delay:    cfg.DialRetryDelay,
		Logger:   logger,
		Op:       op,
	}, func() error { return rdb.Ping(ctx).Err() })
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", cfg.Addr, err)
	}
	logger.With("op", op).Info("connected to redis", slog.String("addr", cfg.Addr))
	return New(rdb, cfg.Prefix, cfg.PeerID, logger), nil
}

// New wraps an existing client. The transport closes it on Close.
func New(rdb redis.UniversalClient, prefix, peerID string, logger *slog.Logger) *Transport {
	prefix = pubsub.FirstNonEmpty(prefix, DefaultPrefix)
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		rdb:      rdb,
		prefix:   prefix,
		peerID:   peerID,
		log:      logger,
		channels: make(map[*channel]struct{}),
	}
}

func (t *Transport) Open(_ context.Context, name string) (pubsub.Channel, error) {
	if name == "" {
		return nil, pubsub.ErrEmptyChannel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, pubsub.ErrTransportClosed
	}
	c := &channel{t: t, name: name, key: t.prefix + name}
	t.channels[c] = struct{}{}
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	chans := make([]*channel, 0, len(t.channels))
	for c := range t.channels {
		chans = append(chans, c)
	}
	t.mu.Unlock()

	for _, c := range chans {
		_ = c.Close()
	}
	return t.rdb.Close()
}

type channel struct {
	t    *Transport
	name string
	key  string

	mu      sync.Mutex
	handler pubsub.Handler
	sub     *redis.PubSub
	done    chan struct{}
	closed  bool
}

func (c *channel) Name() string { return c.name }

func (c *channel) Publish(ctx context.Context, env common.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return pubsub.ErrChannelClosed
	}
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.t.rdb.Publish(ctx, c.key, body).Err()
}

// Subscribe confirms the Redis subscription before returning.
func (c *channel) Subscribe(h pubsub.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pubsub.ErrChannelClosed
	}
	c.handler = h
	if c.sub != nil {
		return nil
	}

	ctx := context.Background()
	sub := c.t.rdb.Subscribe(ctx, c.key)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", c.key, err)
	}
	c.sub = sub
	c.done = make(chan struct{})
	go c.run(sub.Channel(), c.done)
	return nil
}

func (c *channel) run(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for msg := range msgs {
		c.deliver(ctx, msg.Payload)
	}
}

func (c *channel) deliver(ctx context.Context, payload string) {
	env, err := common.UnmarshalEnvelope([]byte(payload))
	if err != nil {
		c.t.log.Warn("undecodable redis message",
			slog.String("channel", c.name),
			slog.Any("error", err),
		)
		return
	}
	if c.t.peerID != "" && env.Meta.Producer == c.t.peerID {
		return
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ctx, env)
	}
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, done := c.sub, c.done
	c.sub = nil
	c.mu.Unlock()

	c.t.mu.Lock()
	delete(c.t.channels, c)
	c.t.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}
