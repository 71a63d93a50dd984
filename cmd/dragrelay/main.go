// Command dragrelay serves the WebSocket relay that websocket-transport
// peers connect to, with /healthz and /metrics next to /ws.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roboricindustries/raycon-drag/pkg/config"
	"github.com/roboricindustries/raycon-drag/pkg/logging"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub/wsrelay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to TOML configuration file")
	addr := flag.String("addr", "", "Listen address (overrides relay.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dragrelay: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	logger := logging.New(cfg.Log, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Relay.Addr, logger); err != nil {
		logger.Error("dragrelay stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	hub := wsrelay.NewHub(logger, reg)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           wsrelay.NewRouter(hub, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("relay listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// drops them once its context ends.
	cancelHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}
