// Package pubsub is the transport boundary of the drag protocol: named
// broadcast channels that deliver envelopes to every other subscriber of the
// same name in the process group.
package pubsub

import (
	"context"
	"errors"

	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

// Handler receives envelopes for one channel. Calls for a single channel are
// sequential and in publish order per sender.
type Handler func(ctx context.Context, env common.Envelope)

type Channel interface {
	Name() string
	Publish(ctx context.Context, env common.Envelope) error
	// Subscribe installs the channel's handler. A second call replaces it.
	Subscribe(h Handler) error
	Close() error
}

type Transport interface {
	Open(ctx context.Context, name string) (Channel, error)
	Close() error
}

var (
	ErrChannelClosed   = errors.New("channel closed")
	ErrTransportClosed = errors.New("transport closed")
	ErrEmptyChannel    = errors.New("channel name is required")
)
