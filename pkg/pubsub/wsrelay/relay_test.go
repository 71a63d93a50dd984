package wsrelay_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub/wsrelay"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type relay struct {
	hub  *wsrelay.Hub
	http string
	ws   string
}

func startRelay(t *testing.T) relay {
	t.Helper()
	reg := prometheus.NewRegistry()
	hub := wsrelay.NewHub(quiet, reg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(wsrelay.NewRouter(hub, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return relay{hub: hub, http: srv.URL, ws: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func dial(t *testing.T, r relay, peer string) *wsrelay.Transport {
	t.Helper()
	tr, err := wsrelay.Dial(context.Background(), r.ws, peer, quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

type sink struct {
	mu   sync.Mutex
	envs []common.Envelope
}

func (s *sink) handle(_ context.Context, env common.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.envs))
	for _, e := range s.envs {
		out = append(out, e.Meta.Type)
	}
	return out
}

func subscribe(t *testing.T, tr pubsub.Transport, name string, s *sink) pubsub.Channel {
	t.Helper()
	ch, err := tr.Open(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, ch.Subscribe(s.handle))
	return ch
}

func publish(t *testing.T, ch pubsub.Channel, typ string) {
	t.Helper()
	env, err := common.Wrap(common.Meta{Type: typ}, map[string]int{"n": 1})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), env))
}

func TestRelayFansOutToOtherSubscribers(t *testing.T) {
	r := startRelay(t)
	a, b, c := dial(t, r, "a"), dial(t, r, "b"), dial(t, r, "c")

	var sa, sb, sc sink
	ca := subscribe(t, a, "cards", &sa)
	subscribe(t, b, "cards", &sb)
	subscribe(t, c, "other", &sc)

	publish(t, ca, "1")
	publish(t, ca, "2")

	require.Eventually(t, func() bool { return len(sb.types()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2"}, sb.types())
	assert.Empty(t, sa.types())
	assert.Empty(t, sc.types())
	assert.Equal(t, 3, r.hub.Clients())
}

func TestRelayStopsAfterUnsubscribe(t *testing.T) {
	r := startRelay(t)
	a, b := dial(t, r, "a"), dial(t, r, "b")

	var sa, cardsB, syncB sink
	ca := subscribe(t, a, "cards", &sa)
	syncA := subscribe(t, a, "sync", &sa)
	cb := subscribe(t, b, "cards", &cardsB)
	require.NoError(t, cb.Close())
	subscribe(t, b, "sync", &syncB)

	publish(t, ca, "lost")
	publish(t, syncA, "marker")

	require.Eventually(t, func() bool { return len(syncB.types()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, cardsB.types())
	assert.ErrorIs(t, cb.Publish(context.Background(), common.Envelope{}), pubsub.ErrChannelClosed)
}

func TestHealthz(t *testing.T) {
	r := startRelay(t)
	dial(t, r, "a")
	require.Eventually(t, func() bool { return r.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(r.http + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		OK      bool `json:"ok"`
		Clients int  `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.Equal(t, 1, body.Clients)

	metrics, err := http.Get(r.http + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "raycon_drag_relay_connections 1")
}

func TestCoordinatorsOverRelay(t *testing.T) {
	r := startRelay(t)
	newCoordinator := func(peer string) *coordinator.Coordinator {
		c, err := coordinator.New(context.Background(), coordinator.Options{
			PeerID:            peer,
			Transport:         dial(t, r, peer),
			HeartbeatInterval: 20 * time.Millisecond,
			Logger:            quiet,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	a, b := newCoordinator("a"), newCoordinator("b")

	require.Eventually(t, func() bool {
		return len(a.OnlineTabs()) == 1 && len(b.OnlineTabs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", a.OnlineTabs()[0].TabID)
	assert.Equal(t, "a", b.OnlineTabs()[0].TabID)

	var got []magicdrag.MessageType
	var mu sync.Mutex
	b.AddEventListener(magicdrag.TabActivated, func(m magicdrag.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.Type)
	})
	a.Activate(magicdrag.ScreenPosition{})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
