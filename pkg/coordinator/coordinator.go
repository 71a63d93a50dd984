// Package coordinator is the per-peer hub of the drag protocol. It owns the
// class and instance registries, the shared drag state, the listener table,
// peer presence and the preview stand-in, and it speaks the protocol over a
// pubsub.Transport.
//
// Every entry point runs as one turn: state is changed under the coordinator
// lock and side effects (listener calls, entity hooks, publishes, element
// removal) are queued and run in order after the lock is released, so
// listeners may call back into the coordinator.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/observability"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

type Coordinator struct {
	opts    Options
	peerID  string
	log     *slog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	classes        map[string]Class
	classByChannel map[string]string
	channelRefs    map[string]int
	instances      map[string]entity.Entity
	byClass        map[string]map[string]entity.Entity
	listeners      map[magicdrag.MessageType][]listener
	nextListener   ListenerID
	quiet          map[magicdrag.MessageType]*rate.Sometimes
	state          DragState
	pending        *magicdrag.Message
	activated      bool
	tabs           map[string]TabInfo
	preview        *preview

	chMu     sync.Mutex
	channels map[string]pubsub.Channel
}

// New builds a coordinator, subscribes the default channel and starts the
// heartbeat. Close releases it; the transport stays owned by the caller.
func New(ctx context.Context, opts Options) (*Coordinator, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	opts = opts.withDefaults()
	if !validChannel(opts.Channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, opts.Channel)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		opts:    opts,
		peerID:  opts.PeerID,
		log:     opts.Logger.With(slog.String("peer_id", opts.PeerID)),
		metrics: opts.Metrics,
		ctx:     cctx,
		cancel:  cancel,

		classes:        make(map[string]Class),
		classByChannel: make(map[string]string),
		channelRefs:    make(map[string]int),
		instances:      make(map[string]entity.Entity),
		byClass:        make(map[string]map[string]entity.Entity),
		listeners:      make(map[magicdrag.MessageType][]listener),
		quiet:          make(map[magicdrag.MessageType]*rate.Sometimes),
		tabs:           make(map[string]TabInfo),
		channels:       make(map[string]pubsub.Channel),
	}

	c.ensureChannel(opts.Channel)

	c.wg.Add(1)
	go c.heartbeatLoop()

	c.log.Info("coordinator started",
		slog.String("channel", opts.Channel),
		slog.Duration("heartbeat", opts.HeartbeatInterval),
		slog.Duration("tab_timeout", opts.TabTimeout),
	)
	return c, nil
}

func (c *Coordinator) PeerID() string { return c.peerID }

func (c *Coordinator) Env() entity.Env { return c.opts.Env }

func (c *Coordinator) Logger() *slog.Logger { return c.log }

// Close stops the heartbeat, drops the preview, clears every registry and
// closes the channels. Calling it again does nothing.
func (c *Coordinator) Close() error {
	t := &turn{}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.removePreview(t)
	c.classes = make(map[string]Class)
	c.classByChannel = make(map[string]string)
	c.channelRefs = make(map[string]int)
	c.instances = make(map[string]entity.Entity)
	c.byClass = make(map[string]map[string]entity.Entity)
	c.listeners = make(map[magicdrag.MessageType][]listener)
	c.tabs = make(map[string]TabInfo)
	c.state = DragState{}
	c.pending = nil
	c.mu.Unlock()
	t.flush()

	c.cancel()
	c.wg.Wait()

	c.chMu.Lock()
	chans := c.channels
	c.channels = make(map[string]pubsub.Channel)
	c.chMu.Unlock()

	var firstErr error
	for name, ch := range chans {
		if err := ch.Close(); err != nil {
			c.log.Warn("close channel", slog.String("channel", name), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.metrics.OnlinePeers(0)
	c.log.Info("coordinator closed")
	return firstErr
}

// turn collects effects produced while the lock is held.
type turn struct {
	effects []func()
}

func (t *turn) after(fn func()) { t.effects = append(t.effects, fn) }

func (t *turn) flush() {
	for _, fn := range t.effects {
		fn()
	}
}

// do runs fn under the lock and then its effects. Returns false when the
// coordinator is closed.
func (c *Coordinator) do(fn func(t *turn)) bool {
	t := &turn{}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	fn(t)
	c.mu.Unlock()
	t.flush()
	return true
}

func (c *Coordinator) now() int64 { return magicdrag.Stamp(c.opts.Clock()) }

func (c *Coordinator) newMessage(typ magicdrag.MessageType, instanceID, target string, p magicdrag.Payload) magicdrag.Message {
	p.Timestamp = c.now()
	return magicdrag.Message{
		Type:        typ,
		InstanceID:  instanceID,
		SourceTabID: c.peerID,
		TargetTabID: target,
		Payload:     p,
	}
}

// Broadcast publishes msg on the channel of its class, stamped with this
// peer as source.
func (c *Coordinator) Broadcast(msg magicdrag.Message) {
	c.do(func(t *turn) { c.broadcast(t, msg) })
}

func (c *Coordinator) broadcast(t *turn, msg magicdrag.Message) {
	msg.SourceTabID = c.peerID
	name := c.channelFor(msg)
	t.after(func() { c.publish(name, msg) })
}

func (c *Coordinator) publish(name string, msg magicdrag.Message) {
	ch := c.ensureChannel(name)
	if ch == nil {
		return
	}
	env, err := common.Wrap(common.Meta{
		Type:     string(msg.Type),
		Producer: c.peerID,
		Channel:  name,
	}, msg)
	if err != nil {
		c.log.Error("failed to encode message",
			slog.String("type", string(msg.Type)),
			slog.Any("error", err),
		)
		return
	}
	if err := ch.Publish(c.ctx, env); err != nil {
		c.metrics.PublishError(name)
		c.log.Error("failed to broadcast",
			slog.String("channel", name),
			slog.String("type", string(msg.Type)),
			slog.Any("error", err),
		)
		return
	}
	c.metrics.Published(name, string(msg.Type))
}

// ensureChannel returns the open channel for name, opening and subscribing
// it on first use. An open failure degrades the channel to a fallback.
func (c *Coordinator) ensureChannel(name string) pubsub.Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if ch, ok := c.channels[name]; ok {
		return ch
	}
	if c.ctx.Err() != nil {
		return nil
	}

	ch, err := c.opts.Transport.Open(c.ctx, name)
	if err == nil {
		err = ch.Subscribe(c.inbound(name))
		if err != nil {
			_ = ch.Close()
		}
	}
	if err != nil {
		c.log.Error("channel unavailable, continuing without cross-peer delivery",
			slog.String("channel", name),
			slog.Any("error", err),
		)
		ch = pubsub.NewFallback(name, err, c.log)
	}
	c.channels[name] = ch
	return ch
}

// Unavailable reports whether the named channel failed to open.
func (c *Coordinator) Unavailable(name string) bool {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	_, degraded := c.channels[name].(*pubsub.FallbackChannel)
	return degraded
}

func (c *Coordinator) closeChannel(name string) {
	c.chMu.Lock()
	ch, ok := c.channels[name]
	delete(c.channels, name)
	c.chMu.Unlock()
	if !ok {
		return
	}
	if err := ch.Close(); err != nil {
		c.log.Warn("close channel", slog.String("channel", name), slog.Any("error", err))
	}
}
