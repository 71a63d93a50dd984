// Package entity holds the draggable unit and the collaborator contracts it
// is rendered and driven through.
package entity

import (
	"log/slog"

	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// Entity is a draggable unit bound to one element. Concrete kinds embed
// *Base and implement ClassName, Serialize and Deserialize.
type Entity interface {
	InstanceID() string
	ClassName() string
	Element() Element
	Serialize() (magicdrag.SerializedData, error)
	Deserialize(data magicdrag.SerializedData) error
	Destroy()
}

// Coordinator is the part of the peer coordinator an entity talks to.
type Coordinator interface {
	PeerID() string
	Env() Env
	Logger() *slog.Logger
	ActiveTabID() string

	RegisterInstance(e Entity)
	UnregisterInstance(instanceID string)

	NotifyDragStart(instanceID string, data magicdrag.SerializedData)
	NotifyDragMove(instanceID string, pos magicdrag.ScreenPosition, data magicdrag.SerializedData)
	NotifyDragEnd(instanceID string, data magicdrag.SerializedData)
	NotifyDragDrop(instanceID string, data magicdrag.SerializedData, targetTabID string)
	NotifyDragAbort(instanceID string, data magicdrag.SerializedData)
}

// Spec is what a Factory receives to build an entity of its kind.
type Spec struct {
	InstanceID  string
	Element     Element
	Coordinator Coordinator
}

type Factory func(spec Spec) (Entity, error)
