package rabbit

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

type channel struct {
	t        *Transport
	name     string
	exchange string

	mu      sync.Mutex
	handler pubsub.Handler
	stop    context.CancelFunc
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
	return c.t.publish(ctx, c.exchange, env)
}

// Subscribe starts the consumer on first call; later calls swap the handler.
func (c *channel) Subscribe(h pubsub.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pubsub.ErrChannelClosed
	}
	running := c.stop != nil
	c.handler = h
	if running {
		return nil
	}
	return c.startLocked()
}

func (c *channel) resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pubsub.ErrChannelClosed
	}
	if c.handler == nil {
		return nil
	}
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	return c.startLocked()
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.mu.Unlock()

	c.t.mu.Lock()
	delete(c.t.channels, c)
	c.t.mu.Unlock()
	return nil
}

func (c *channel) currentHandler() pubsub.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// startLocked declares a private queue bound to the exchange and runs the
// consumer loop. Caller holds c.mu.
func (c *channel) startLocked() error {
	c.t.mu.RLock()
	conn := c.t.conn
	c.t.mu.RUnlock()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(c.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = SafeClose(ch)
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = SafeClose(ch)
		return err
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		_ = SafeClose(ch)
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = SafeClose(ch)
		return err
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	ctx, cancel := context.WithCancel(c.t.ctx)
	c.stop = cancel

	c.t.wg.Add(1)
	go func() {
		defer c.t.wg.Done()
		defer func() { _ = SafeClose(ch) }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closeCh:
				c.lost()
				return
			case d, ok := <-msgs:
				if !ok {
					c.lost()
					return
				}
				c.deliver(ctx, d)
			}
		}
	}()

	c.t.log.Info("consumer started",
		slog.String("channel", c.name),
		slog.String("exchange", c.exchange),
		slog.String("queue", q.Name),
	)
	return nil
}

// lost asks the supervisor for a restart.
func (c *channel) lost() {
	select {
	case c.t.restart <- c:
	default:
	}
}

// deliver hands one delivery to the handler. Own publishes and undecodable
// bodies are skipped; deliveries are auto-acked.
func (c *channel) deliver(ctx context.Context, d amqp.Delivery) {
	if c.t.cfg.PeerID != "" && d.AppId == c.t.cfg.PeerID {
		return
	}
	env, err := common.UnmarshalEnvelope(d.Body)
	if err != nil {
		c.t.log.Warn("poison message skipped",
			slog.String("channel", c.name),
			slog.String("message_id", d.MessageId),
			slog.Any("error", err),
		)
		return
	}
	if h := c.currentHandler(); h != nil {
		h(ctx, env)
	}
}
