// Package wsrelay fans drag channels out through a WebSocket relay. Peers
// dial the relay, subscribe to channel names and publish envelopes; the relay
// forwards each envelope to every other connection subscribed to the name.
package wsrelay

import (
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
)

type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPublish     Op = "publish"
	OpDeliver     Op = "deliver"
	OpAck         Op = "ack"
)

// Frame is one WebSocket text message in either direction.
type Frame struct {
	Op       Op               `json:"op"`
	Channel  string           `json:"channel"`
	Envelope *common.Envelope `json:"envelope,omitempty"`
}
