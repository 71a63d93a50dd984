package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

const (
	ackTimeout = 5 * time.Second
	inboxSize  = 256
)

var errNoAck = errors.New("relay did not acknowledge subscription")

// Transport is a peer's connection to a relay.
type Transport struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[string]map[*channel]struct{}
	acks     map[string][]chan struct{}
	closed   bool

	// readLoop hands deliveries to dispatch and never runs handlers itself.
	inbox      chan delivery
	done       chan struct{}
	dispatched chan struct{}
}

type delivery struct {
	channel string
	env     common.Envelope
}

var _ pubsub.Transport = (*Transport)(nil)

// Dial connects to the relay's /ws endpoint as peerID.
func Dial(ctx context.Context, rawURL, peerID string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("peer", peerID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Host, err)
	}
	t := &Transport{
		conn:       conn,
		log:        logger.With(slog.String("relay", u.Host)),
		channels:   make(map[string]map[*channel]struct{}),
		acks:       make(map[string][]chan struct{}),
		inbox:      make(chan delivery, inboxSize),
		done:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	go t.readLoop()
	go t.dispatch()
	t.log.Info("connected to relay")
	return t, nil
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
	return &channel{t: t, name: name}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	err := t.conn.Close()
	<-t.done
	<-t.dispatched
	return err
}

func (t *Transport) write(ctx context.Context, f Frame) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteJSON(f)
}

func (t *Transport) readLoop() {
	defer close(t.done)
	defer close(t.inbox)
	for {
		var f Frame
		if err := t.conn.ReadJSON(&f); err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.log.Warn("relay connection lost", slog.Any("error", err))
			}
			return
		}
		switch f.Op {
		case OpAck:
			t.ack(f.Channel)
		case OpDeliver:
			if f.Envelope != nil {
				t.inbox <- delivery{channel: f.Channel, env: *f.Envelope}
			}
		}
	}
}

func (t *Transport) ack(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	waiters := t.acks[name]
	if len(waiters) == 0 {
		return
	}
	close(waiters[0])
	t.acks[name] = waiters[1:]
}

func (t *Transport) dispatch() {
	defer close(t.dispatched)
	for d := range t.inbox {
		t.deliver(d.channel, d.env)
	}
}

func (t *Transport) deliver(name string, env common.Envelope) {
	t.mu.Lock()
	handlers := make([]pubsub.Handler, 0, len(t.channels[name]))
	for c := range t.channels[name] {
		if c.handler != nil {
			handlers = append(handlers, c.handler)
		}
	}
	t.mu.Unlock()

	ctx := context.Background()
	for _, h := range handlers {
		h(ctx, env)
	}
}

// subscribe adds c to the local table and, for the first channel of its
// name, asks the relay to subscribe and waits for the ack.
func (t *Transport) subscribe(c *channel, h pubsub.Handler) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return pubsub.ErrTransportClosed
	}
	c.handler = h
	set := t.channels[c.name]
	if set == nil {
		set = make(map[*channel]struct{})
		t.channels[c.name] = set
	}
	_, already := set[c]
	first := len(set) == 0
	set[c] = struct{}{}
	if already || !first {
		t.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	t.acks[c.name] = append(t.acks[c.name], wait)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()
	if err := t.write(ctx, Frame{Op: OpSubscribe, Channel: c.name}); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.name, err)
	}
	select {
	case <-wait:
		return nil
	case <-t.done:
		return pubsub.ErrTransportClosed
	case <-ctx.Done():
		return fmt.Errorf("subscribe %s: %w", c.name, errNoAck)
	}
}

func (t *Transport) unsubscribe(c *channel) {
	t.mu.Lock()
	set := t.channels[c.name]
	_, had := set[c]
	delete(set, c)
	last := had && len(set) == 0
	if len(set) == 0 {
		delete(t.channels, c.name)
	}
	closed := t.closed
	t.mu.Unlock()

	if last && !closed {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		_ = t.write(ctx, Frame{Op: OpUnsubscribe, Channel: c.name})
	}
}

type channel struct {
	t       *Transport
	name    string
	handler pubsub.Handler // guarded by t.mu

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func (c *channel) Name() string { return c.name }

func (c *channel) Publish(ctx context.Context, env common.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return pubsub.ErrChannelClosed
	}
	return c.t.write(ctx, Frame{Op: OpPublish, Channel: c.name, Envelope: &env})
}

func (c *channel) Subscribe(h pubsub.Handler) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return pubsub.ErrChannelClosed
	}
	return c.t.subscribe(c, h)
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.t.unsubscribe(c)
	})
	return nil
}
