package coordinator_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/cards"
	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

func onlineIDs(c *coordinator.Coordinator) []string {
	var ids []string
	for _, info := range c.OnlineTabs() {
		ids = append(ids, info.TabID)
	}
	return ids
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	a := newPeer(t, bus, "a", 0)
	b := newPeer(t, bus, "b", 1000)

	var acks inbox
	a.c.AddEventListener(magicdrag.HeartbeatAck, acks.listen)

	a.c.Heartbeat()

	require.Eventually(t, func() bool { return acks.count() == 1 }, waitFor, tick)
	ack := acks.all()[0]
	assert.Equal(t, "b", ack.SourceTabID)
	assert.Equal(t, "a", ack.TargetTabID)
	assert.Equal(t, []string{"b"}, onlineIDs(a.c))
	assert.Equal(t, []string{"a"}, onlineIDs(b.c))

	tabs := a.c.OnlineTabs()
	assert.True(t, tabs[0].IsOnline)
	assert.Equal(t, a.clock.Now(), tabs[0].LastActiveTime)
}

func TestSilentPeersAreSwept(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	a := newPeer(t, bus, "a", 0)
	b := newPeer(t, bus, "b", 1000)

	a.c.Heartbeat()
	require.Eventually(t, func() bool { return len(b.c.OnlineTabs()) == 1 }, waitFor, tick)
	require.NoError(t, a.c.Close())

	b.clock.Advance(coordinator.DefaultTabTimeout)
	b.c.Heartbeat()
	assert.Equal(t, []string{"a"}, onlineIDs(b.c))

	b.clock.Advance(time.Millisecond)
	b.c.Heartbeat()
	assert.Empty(t, b.c.OnlineTabs())
}

func TestHeartbeatTicker(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	a := newPeer(t, bus, "a", 0, func(o *coordinator.Options) { o.HeartbeatInterval = 10 * time.Millisecond })
	b := newPeer(t, bus, "b", 1000)

	var beats inbox
	b.c.AddEventListener(magicdrag.Heartbeat, beats.listen)

	require.Eventually(t, func() bool { return beats.count() >= 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(a.c.OnlineTabs()) == 1 }, waitFor, tick)
}

func TestMissingListenerLogIsThrottled(t *testing.T) {
	bus := pubsub.NewMemoryBus()
	defer bus.Close()
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn}))
	a := newPeer(t, bus, "a", 0, func(o *coordinator.Options) { o.Logger = logger }).withCards(t)

	for i := 0; i < 3; i++ {
		a.c.Heartbeat()
	}
	assert.Equal(t, 1, strings.Count(out.String(), "no listener for message type"))
	assert.Contains(t, out.String(), "channel="+coordinator.DefaultChannel)

	a.c.NotifyDragStart("x", cardSnapshot("x"))
	assert.Equal(t, 2, strings.Count(out.String(), "no listener for message type"))
	assert.Contains(t, out.String(), "class="+cards.ClassName)
	assert.Contains(t, out.String(), "channel="+cards.Channel)
}
