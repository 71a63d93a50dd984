package coordinator

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/observability"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const (
	DefaultChannel               = "magic-drag-channel"
	DefaultPreviewContainer      = "body"
	DefaultHeartbeatInterval     = 5 * time.Second
	DefaultTabTimeout            = 15 * time.Second
	DefaultPreviewOpacity        = 0.7
	DefaultPreviewZIndex         = 9999
	DefaultNoListenerLogInterval = 30 * time.Second
)

type Options struct {
	// PeerID identifies this peer; a random UUID when empty.
	PeerID string
	// Channel is the default transport channel.
	Channel string
	// PreviewContainer is handed to the renderer when creating stand-ins.
	PreviewContainer  string
	HeartbeatInterval time.Duration
	TabTimeout        time.Duration
	PreviewOpacity    float64
	PreviewZIndex     int
	// NoListenerLogInterval throttles "no listener" warnings per message type.
	NoListenerLogInterval time.Duration

	Transport pubsub.Transport
	Renderer  entity.Renderer
	Env       entity.Env

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PeerID == "" {
		o.PeerID = uuid.NewString()
	}
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.PreviewContainer == "" {
		o.PreviewContainer = DefaultPreviewContainer
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.TabTimeout <= 0 {
		o.TabTimeout = DefaultTabTimeout
	}
	if o.PreviewOpacity <= 0 {
		o.PreviewOpacity = DefaultPreviewOpacity
	}
	if o.PreviewZIndex == 0 {
		o.PreviewZIndex = DefaultPreviewZIndex
	}
	if o.NoListenerLogInterval <= 0 {
		o.NoListenerLogInterval = DefaultNoListenerLogInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Class is one registered entity kind. New rebuilds an entity of the kind
// from a snapshot arriving from another peer.
type Class struct {
	Name    string
	Channel string
	New     entity.Factory
	// OnEnterPeer runs on the drag source when another peer claims the drag.
	OnEnterPeer func(p magicdrag.Payload)
}
