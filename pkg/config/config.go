// Package config loads peer and relay settings from a TOML file with
// RAYCON_DRAG_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
)

const (
	KindMemory    = "memory"
	KindRabbitMQ  = "rabbitmq"
	KindRedis     = "redis"
	KindWebSocket = "websocket"
)

const (
	EnvPeerID            = "RAYCON_DRAG_PEER_ID"
	EnvChannel           = "RAYCON_DRAG_CHANNEL"
	EnvHeartbeatInterval = "RAYCON_DRAG_HEARTBEAT_INTERVAL"
	EnvTabTimeout        = "RAYCON_DRAG_TAB_TIMEOUT"
	EnvTransportKind     = "RAYCON_DRAG_TRANSPORT"
	EnvTransportURL      = "RAYCON_DRAG_TRANSPORT_URL"
	EnvRelayAddr         = "RAYCON_DRAG_RELAY_ADDR"
	EnvMetricsAddr       = "RAYCON_DRAG_METRICS_ADDR"
	EnvLogFormat         = "RAYCON_DRAG_LOG_FORMAT"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	PeerID            string
	Channel           string
	PreviewContainer  string
	HeartbeatInterval time.Duration
	TabTimeout        time.Duration

	Transport Transport
	Relay     Relay
	Log       Log
	Metrics   Metrics
}

// Transport selects the pub/sub backend. URL is the broker address for
// rabbitmq, host:port for redis and the relay endpoint for websocket.
type Transport struct {
	Kind          string
	URL           string
	Prefix        string
	RetryAttempts int
	RetryDelay    time.Duration
	PoolSize      int
}

type Relay struct {
	Addr string
}

type Log struct {
	Level  string
	Format string
}

// Metrics.Addr empty disables the metrics listener.
type Metrics struct {
	Addr string
}

func Default() Config {
	return Config{
		Channel:           coordinator.DefaultChannel,
		PreviewContainer:  coordinator.DefaultPreviewContainer,
		HeartbeatInterval: coordinator.DefaultHeartbeatInterval,
		TabTimeout:        coordinator.DefaultTabTimeout,
		Transport: Transport{
			Kind:          KindMemory,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
			PoolSize:      16,
		},
		Relay: Relay{Addr: ":8090"},
		Log:   Log{Level: "info", Format: "text"},
	}
}

type fileConfig struct {
	PeerID            string `toml:"peer_id"`
	Channel           string `toml:"channel"`
	PreviewContainer  string `toml:"preview_container"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	TabTimeout        string `toml:"tab_timeout"`

	Transport struct {
		Kind          string `toml:"kind"`
		URL           string `toml:"url"`
		Prefix        string `toml:"prefix"`
		RetryAttempts int    `toml:"retry_attempts"`
		RetryDelay    string `toml:"retry_delay"`
		PoolSize      int    `toml:"pool_size"`
	} `toml:"transport"`

	Relay struct {
		Addr string `toml:"addr"`
	} `toml:"relay"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// Load overlays the file at path (skipped when empty) and the environment
// onto Default, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := overlayEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config: %w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("peer_id") {
		cfg.PeerID = strings.TrimSpace(raw.PeerID)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("preview_container") {
		cfg.PreviewContainer = strings.TrimSpace(raw.PreviewContainer)
	}
	if meta.IsDefined("heartbeat_interval") {
		if cfg.HeartbeatInterval, err = parseDuration("heartbeat_interval", raw.HeartbeatInterval); err != nil {
			return err
		}
	}
	if meta.IsDefined("tab_timeout") {
		if cfg.TabTimeout, err = parseDuration("tab_timeout", raw.TabTimeout); err != nil {
			return err
		}
	}

	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "url") {
		cfg.Transport.URL = strings.TrimSpace(raw.Transport.URL)
	}
	if meta.IsDefined("transport", "prefix") {
		cfg.Transport.Prefix = strings.TrimSpace(raw.Transport.Prefix)
	}
	if meta.IsDefined("transport", "retry_attempts") {
		cfg.Transport.RetryAttempts = raw.Transport.RetryAttempts
	}
	if meta.IsDefined("transport", "retry_delay") {
		if cfg.Transport.RetryDelay, err = parseDuration("transport.retry_delay", raw.Transport.RetryDelay); err != nil {
			return err
		}
	}
	if meta.IsDefined("transport", "pool_size") {
		cfg.Transport.PoolSize = raw.Transport.PoolSize
	}

	if meta.IsDefined("relay", "addr") {
		cfg.Relay.Addr = strings.TrimSpace(raw.Relay.Addr)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.TrimSpace(raw.Log.Format)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	return nil
}

func overlayEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := parseDuration(key, v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}

	str(EnvPeerID, &cfg.PeerID)
	str(EnvChannel, &cfg.Channel)
	str(EnvTransportKind, &cfg.Transport.Kind)
	cfg.Transport.Kind = strings.ToLower(cfg.Transport.Kind)
	str(EnvTransportURL, &cfg.Transport.URL)
	str(EnvRelayAddr, &cfg.Relay.Addr)
	str(EnvMetricsAddr, &cfg.Metrics.Addr)
	str(EnvLogFormat, &cfg.Log.Format)

	if err := dur(EnvHeartbeatInterval, &cfg.HeartbeatInterval); err != nil {
		return err
	}
	return dur(EnvTabTimeout, &cfg.TabTimeout)
}

// parseDuration accepts Go duration strings and bare integers as seconds.
func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("load config: %w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Channel) == "" {
		return fmt.Errorf("%w: channel is empty", ErrInvalid)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalid)
	}
	if c.TabTimeout < c.HeartbeatInterval {
		return fmt.Errorf("%w: tab_timeout %s is shorter than heartbeat_interval %s",
			ErrInvalid, c.TabTimeout, c.HeartbeatInterval)
	}
	switch c.Transport.Kind {
	case KindMemory:
	case KindRabbitMQ, KindRedis, KindWebSocket:
		if c.Transport.URL == "" {
			return fmt.Errorf("%w: transport %s requires url", ErrInvalid, c.Transport.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported transport kind %q (expected memory, rabbitmq, redis or websocket)",
			ErrInvalid, c.Transport.Kind)
	}
	if c.Transport.RetryAttempts < 0 || c.Transport.PoolSize < 0 {
		return fmt.Errorf("%w: transport retry_attempts and pool_size must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unsupported log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// CoordinatorOptions maps the peer settings. Transport, collaborators and
// the logger are left for the caller to wire.
func (c Config) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		PeerID:            c.PeerID,
		Channel:           c.Channel,
		PreviewContainer:  c.PreviewContainer,
		HeartbeatInterval: c.HeartbeatInterval,
		TabTimeout:        c.TabTimeout,
	}
}
