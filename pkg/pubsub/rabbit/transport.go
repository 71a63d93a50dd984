// Package rabbit carries drag channels over RabbitMQ: one fanout exchange
// per channel name and one exclusive, auto-deleted queue per subscriber.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

type Transport struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	conn     *amqp.Connection
	pool     *ChannelPool
	channels map[*channel]struct{}
	closed   bool

	restart chan *channel
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ pubsub.Transport = (*Transport)(nil)

// Dial connects with retries and starts the reconnect supervisor.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	const op = "rabbit.Dial"

	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	u, _ := url.Parse(cfg.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	t := newTransport(cfg, logger)
	err := pubsub.Retry(ctx, pubsub.RetryOptions{
		Attempts: cfg.DialAttempts,
		Delay:    cfg.DialRetryDelay,
		Logger:   logger,
		Op:       op,
	}, func() error { return t.connect(ctx) })
	if err != nil {
		t.cancel()
		return nil, err
	}

	t.wg.Add(1)
	go t.supervise()

	logger.With("op", op).Info("transport ready")
	return t, nil
}

func newTransport(cfg Config, logger *slog.Logger) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:      cfg,
		log:      logger,
		channels: make(map[*channel]struct{}),
		restart:  make(chan *channel, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (t *Transport) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, Dsec(t.cfg.ConnTimeoutSeconds, 30))
	defer cancel()

	conn, err := t.cfg.Dialer(dctx, t.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	pool := NewChannelPool(conn, t.cfg.PublishPoolSize, time.Duration(t.cfg.PoolRetryDelayMs)*time.Millisecond)

	t.mu.Lock()
	oldPool, oldConn := t.pool, t.conn
	t.conn, t.pool = conn, pool
	t.mu.Unlock()

	if oldPool != nil {
		oldPool.Close()
	}
	if oldConn != nil && !oldConn.IsClosed() {
		_ = oldConn.Close()
	}
	return nil
}

func (t *Transport) Open(ctx context.Context, name string) (pubsub.Channel, error) {
	if name == "" {
		return nil, pubsub.ErrEmptyChannel
	}
	t.mu.RLock()
	closed, pool := t.closed, t.pool
	t.mu.RUnlock()
	if closed {
		return nil, pubsub.ErrTransportClosed
	}

	exchange := t.cfg.Exchange(name)
	err := pool.With(ctx, func(ch *amqp.Channel) error {
		return ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	c := &channel{t: t, name: name, exchange: exchange}
	t.mu.Lock()
	t.channels[c] = struct{}{}
	t.mu.Unlock()
	return c, nil
}

// Close stops every consumer, then the pool and the connection.
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
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	t.mu.Lock()
	pool, conn := t.pool, t.conn
	t.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

func (t *Transport) publish(ctx context.Context, exchange string, env common.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	t.mu.RLock()
	pool := t.pool
	t.mu.RUnlock()

	return pool.With(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
			MessageId:    env.Meta.ID,
			Type:         env.Meta.Type,
			Timestamp:    env.Meta.Time,
			AppId:        t.cfg.PeerID,
		})
	})
}

// supervise waits for the connection to drop, reconnects with backoff and
// resumes every subscribed channel on the new connection.
func (t *Transport) supervise() {
	defer t.wg.Done()
	for {
		t.mu.RLock()
		errCh := t.conn.NotifyClose(make(chan *amqp.Error, 1))
		t.mu.RUnlock()

		if !t.watch(errCh) || !t.reconnect() {
			return
		}
		t.resumeAll()
	}
}

func (t *Transport) watch(errCh <-chan *amqp.Error) bool {
	for {
		select {
		case <-t.ctx.Done():
			return false
		case c := <-t.restart:
			t.resume(c)
		case err, ok := <-errCh:
			if !ok || err == nil {
				err = &amqp.Error{Reason: "connection closed"}
			}
			t.log.Error("amqp connection closed, reconnecting", slog.Any("error", err))
			return true
		}
	}
}

func (t *Transport) reconnect() bool {
	base := Dsec(t.cfg.ReconnectBackoffBaseSeconds, 1)
	limit := Dsec(t.cfg.ReconnectBackoffCapSeconds, 30)
	backoff := base
	for {
		if t.ctx.Err() != nil {
			return false
		}
		err := t.connect(t.ctx)
		if err == nil {
			t.log.With("op", "rabbit.reconnect").Info("reconnected")
			return true
		}
		wait := pubsub.JitteredDelay(backoff, limit, t.cfg.ReconnectJitterPercent)
		t.log.Error("reconnect failed", slog.Any("error", err), slog.Duration("retry_in", wait))
		select {
		case <-t.ctx.Done():
			return false
		case <-time.After(wait):
		}
		if backoff*2 < limit {
			backoff *= 2
		}
	}
}

func (t *Transport) resumeAll() {
	t.mu.RLock()
	chans := make([]*channel, 0, len(t.channels))
	for c := range t.channels {
		chans = append(chans, c)
	}
	t.mu.RUnlock()
	for _, c := range chans {
		t.resume(c)
	}
}

// resume restarts c's consumer if it is still wanted and the connection is up.
func (t *Transport) resume(c *channel) {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return
	}
	if err := c.resubscribe(); err != nil && !errors.Is(err, pubsub.ErrChannelClosed) {
		t.log.Error("restart consumer failed", slog.String("channel", c.name), slog.Any("error", err))
	}
}
