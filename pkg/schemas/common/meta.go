package common

import "time"

type Meta struct {
	// Unique envelope ID
	ID string `json:"id"`
	// Message type, e.g. magic_drag_move
	Type string `json:"type"`
	// Peer that published the envelope
	Producer string `json:"producer"`
	// Channel name the envelope was published on
	Channel string `json:"channel"`
	// Timestamp when the envelope was published
	Time time.Time `json:"time"`
}
