package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

const defaultMemoryQueue = 1024

// MemoryBus is an in-process broadcast group. Every peer obtains its own
// Transport from the bus; channels with the same name are connected.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool

	queueSize int
	openHook  func(peerID, name string) error

	dropped atomic.Uint64
}

type MemoryOption func(*MemoryBus)

// WithQueueSize bounds the per-subscriber queue. Publishes to a full queue
// are dropped, never blocked.
func WithQueueSize(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithOpenHook lets callers fail Open for chosen peers or names.
func WithOpenHook(fn func(peerID, name string) error) MemoryOption {
	return func(b *MemoryBus) { b.openHook = fn }
}

func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		subs:      make(map[string]map[*memorySub]struct{}),
		queueSize: defaultMemoryQueue,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Dropped is the number of envelopes discarded because a queue was full.
func (b *MemoryBus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns how many live subscriptions exist for name.
func (b *MemoryBus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := b.subs
	b.subs = make(map[string]map[*memorySub]struct{})
	b.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.stop()
		}
	}
}

func (b *MemoryBus) Transport(peerID string) Transport {
	return &memoryTransport{bus: b, peerID: peerID}
}

func (b *MemoryBus) publish(from *memoryChannel, env common.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrTransportClosed
	}
	for s := range b.subs[from.name] {
		if s.owner == from {
			continue
		}
		select {
		case s.queue <- env:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *MemoryBus) add(s *memorySub) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrTransportClosed
	}
	set, ok := b.subs[s.owner.name]
	if !ok {
		set = make(map[*memorySub]struct{})
		b.subs[s.owner.name] = set
	}
	set[s] = struct{}{}
	return nil
}

func (b *MemoryBus) remove(s *memorySub) {
	b.mu.Lock()
	if set, ok := b.subs[s.owner.name]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.owner.name)
		}
	}
	b.mu.Unlock()
	s.stop()
}

type memoryTransport struct {
	bus    *MemoryBus
	peerID string

	mu       sync.Mutex
	channels []*memoryChannel
	closed   bool
}

func (t *memoryTransport) Open(_ context.Context, name string) (Channel, error) {
	if name == "" {
		return nil, ErrEmptyChannel
	}
	if t.bus.openHook != nil {
		if err := t.bus.openHook(t.peerID, name); err != nil {
			return nil, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	ch := &memoryChannel{name: name, bus: t.bus}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *memoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := t.channels
	t.channels = nil
	t.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

type memoryChannel struct {
	name string
	bus  *MemoryBus

	mu     sync.Mutex
	sub    *memorySub
	closed bool
}

func (c *memoryChannel) Name() string { return c.name }

func (c *memoryChannel) Publish(_ context.Context, env common.Envelope) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	return c.bus.publish(c, env)
}

func (c *memoryChannel) Subscribe(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sub != nil {
		c.sub.setHandler(h)
		return nil
	}
	s := newMemorySub(c, h, c.bus.queueSize)
	if err := c.bus.add(s); err != nil {
		return err
	}
	c.sub = s
	go s.run()
	return nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sub
	c.sub = nil
	c.mu.Unlock()

	if s != nil {
		c.bus.remove(s)
	}
	return nil
}

type memorySub struct {
	owner   *memoryChannel
	queue   chan common.Envelope
	done    chan struct{}
	once    sync.Once
	handler atomic.Pointer[Handler]
}

func newMemorySub(owner *memoryChannel, h Handler, size int) *memorySub {
	s := &memorySub{
		owner: owner,
		queue: make(chan common.Envelope, size),
		done:  make(chan struct{}),
	}
	s.setHandler(h)
	return s
}

func (s *memorySub) setHandler(h Handler) { s.handler.Store(&h) }

func (s *memorySub) stop() { s.once.Do(func() { close(s.done) }) }

func (s *memorySub) run() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case env := <-s.queue:
			if h := s.handler.Load(); h != nil && *h != nil {
				(*h)(ctx, env)
			}
		}
	}
}
