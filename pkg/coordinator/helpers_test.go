package coordinator_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/cards"
	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/entity/headless"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type peer struct {
	c        *coordinator.Coordinator
	renderer *headless.Renderer
	viewport *headless.Viewport
	gestures *headless.Gestures
	clock    *clock
}

// newPeer starts a peer whose 800x600 viewport sits at screen x.
func newPeer(t *testing.T, bus *pubsub.MemoryBus, id string, x float64, mutate ...func(*coordinator.Options)) *peer {
	t.Helper()
	p := &peer{
		renderer: headless.NewRenderer(100, 50),
		viewport: headless.NewViewport(x, 0, 800, 600),
		gestures: headless.NewGestures(),
		clock:    newClock(),
	}
	opts := coordinator.Options{
		PeerID:            id,
		Transport:         bus.Transport(id),
		Renderer:          p.renderer,
		Env:               entity.Env{Viewport: p.viewport, Poser: headless.Poser{}, Gestures: p.gestures},
		HeartbeatInterval: time.Hour,
		Logger:            quiet,
		Clock:             p.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := coordinator.New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	p.c = c
	return p
}

func (p *peer) withCards(t *testing.T) *peer {
	t.Helper()
	require.NoError(t, p.c.RegisterClass(cards.Class(quiet)))
	return p
}

// card places a card at (x, y) in the peer's viewport.
func (p *peer) card(t *testing.T, title string, x, y float64) (*cards.Card, *headless.Element) {
	t.Helper()
	el, err := p.renderer.CreateElement("body")
	require.NoError(t, err)
	h := el.(*headless.Element)
	h.SetPosition(x, y)
	return cards.New(p.c, el, cards.Data{Title: title}), h
}

type inbox struct {
	mu   sync.Mutex
	msgs []magicdrag.Message
}

func (in *inbox) listen(msg magicdrag.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, msg)
}

func (in *inbox) all() []magicdrag.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]magicdrag.Message(nil), in.msgs...)
}

func (in *inbox) count() int { return len(in.all()) }

func cardSnapshot(id string) magicdrag.SerializedData {
	return magicdrag.SerializedData{
		InstanceID: id,
		ClassName:  cards.ClassName,
		Pose:       magicdrag.Pose{Width: 100, Height: 50},
		CustomData: []byte(`{"title":"remote","content":""}`),
		DragOffset: &magicdrag.DragOffset{X: 10, Y: 10},
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
