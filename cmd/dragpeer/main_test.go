package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/config"
	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/entity/headless"
	"github.com/roboricindustries/raycon-drag/pkg/observability"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDialTransportRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "carrier-pigeon"
	_, err := dialTransport(context.Background(), cfg, quiet)
	require.Error(t, err)
}

func TestStatusRouter(t *testing.T) {
	cfg := config.Default()
	cfg.PeerID = "peer-a"
	cfg.HeartbeatInterval = time.Hour
	cfg.TabTimeout = time.Hour

	transport, err := dialTransport(context.Background(), cfg, quiet)
	require.NoError(t, err)
	defer transport.Close()

	reg := prometheus.NewRegistry()
	renderer := headless.NewRenderer(100, 50)
	opts := cfg.CoordinatorOptions()
	opts.Transport = transport
	opts.Renderer = renderer
	opts.Env = entity.Env{
		Viewport: headless.NewViewport(0, 0, 800, 600),
		Poser:    headless.Poser{},
		Gestures: headless.NewGestures(),
	}
	opts.Logger = quiet
	opts.Metrics = observability.NewMetrics(reg)

	coord, err := coordinator.New(context.Background(), opts)
	require.NoError(t, err)
	defer coord.Close()
	require.NoError(t, seedCards(coord, renderer, 2, cfg.PreviewContainer))

	r := newStatusRouter(coord, reg)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PeerID string `json:"peer_id"`
		Drag   struct {
			IsDragging bool
		} `json:"drag"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "peer-a", body.PeerID)
	assert.False(t, body.Drag.IsDragging)
	assert.Len(t, coord.InstancesOf("Card"), 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
