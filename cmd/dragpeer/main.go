// Command dragpeer runs a headless peer: it joins the drag group over the
// configured transport, seeds a few cards, logs protocol traffic and serves
// its state and metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roboricindustries/raycon-drag/pkg/cards"
	"github.com/roboricindustries/raycon-drag/pkg/config"
	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/entity/headless"
	"github.com/roboricindustries/raycon-drag/pkg/logging"
	"github.com/roboricindustries/raycon-drag/pkg/observability"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const shutdownTimeout = 5 * time.Second

type peerFlags struct {
	viewportX float64
	width     float64
	height    float64
	cards     int
}

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	var pf peerFlags
	flag.Float64Var(&pf.viewportX, "viewport-x", 0, "Screen x of this peer's viewport")
	flag.Float64Var(&pf.width, "width", 1280, "Viewport width")
	flag.Float64Var(&pf.height, "height", 800, "Viewport height")
	flag.IntVar(&pf.cards, "cards", 1, "Cards to place on start")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dragpeer: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, pf, logger); err != nil {
		logger.Error("dragpeer stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, pf peerFlags, logger *slog.Logger) error {
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	transport, err := dialTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}

	renderer := headless.NewRenderer(160, 90)
	opts := cfg.CoordinatorOptions()
	opts.Transport = transport
	opts.Renderer = renderer
	opts.Env = entity.Env{
		Viewport: headless.NewViewport(pf.viewportX, 0, pf.width, pf.height),
		Poser:    headless.Poser{},
		Gestures: headless.NewGestures(),
	}
	opts.Logger = logger
	opts.Metrics = observability.NewMetrics(reg)

	coord, err := coordinator.New(ctx, opts)
	if err != nil {
		_ = transport.Close()
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Warn("coordinator close", slog.Any("error", err))
		}
		if err := transport.Close(); err != nil {
			logger.Warn("transport close", slog.Any("error", err))
		}
	}()

	if err := coord.RegisterClass(cards.Class(logger)); err != nil {
		return err
	}
	if err := seedCards(coord, renderer, pf.cards, cfg.PreviewContainer); err != nil {
		return err
	}
	watchTraffic(coord, logger)
	coord.Activate(magicdrag.ScreenPosition{ScreenX: pf.viewportX + pf.width/2, ScreenY: pf.height / 2})

	logger.Info("peer started",
		slog.String("peer_id", cfg.PeerID),
		slog.String("transport", cfg.Transport.Kind),
		slog.String("channel", cfg.Channel),
		slog.Int("cards", pf.cards),
	)

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.Metrics.Addr != "" {
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: newStatusRouter(coord, reg)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("status listener started", slog.String("addr", cfg.Metrics.Addr))
	}

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("status listener: %w", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status listener shutdown", slog.Any("error", err))
		}
	}
	return nil
}

func seedCards(coord *coordinator.Coordinator, renderer *headless.Renderer, n int, container string) error {
	for i := 0; i < n; i++ {
		el, err := renderer.CreateElement(container)
		if err != nil {
			return fmt.Errorf("seed card: %w", err)
		}
		el.SetPosition(float64(24+i*40), float64(24+i*40))
		cards.New(coord, el, cards.Data{
			Title:   fmt.Sprintf("Card %d", i+1),
			Content: "from " + coord.PeerID(),
		})
	}
	return nil
}

// watchTraffic logs drag traffic at info and presence traffic at debug.
func watchTraffic(coord *coordinator.Coordinator, logger *slog.Logger) {
	for _, typ := range magicdrag.MessageTypes {
		level := slog.LevelInfo
		if typ == magicdrag.Heartbeat || typ == magicdrag.HeartbeatAck {
			level = slog.LevelDebug
		}
		coord.AddEventListener(typ, func(msg magicdrag.Message) {
			logger.Log(context.Background(), level, "drag traffic",
				slog.String("type", string(msg.Type)),
				slog.String("instance_id", msg.InstanceID),
				slog.String("source", msg.SourceTabID),
				slog.String("target", msg.TargetTabID),
			)
		})
	}
}

func newStatusRouter(coord *coordinator.Coordinator, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "peer_id": coord.PeerID()})
	})
	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"peer_id": coord.PeerID(),
			"drag":    coord.DragState(),
			"peers":   coord.OnlineTabs(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return r
}
