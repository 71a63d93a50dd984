// Package cards is a ready-made entity kind: a titled note that can be
// dragged between peers.
package cards

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roboricindustries/raycon-drag/pkg/coordinator"
	"github.com/roboricindustries/raycon-drag/pkg/entity"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const (
	ClassName = "Card"
	Channel   = "magic-drag-cards"
)

type Data struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Card struct {
	*entity.Base

	mu   sync.Mutex
	data Data
	home magicdrag.Point
}

// New builds a card on el and registers it with coord.
func New(coord entity.Coordinator, el entity.Element, data Data, opts ...entity.BaseOption) *Card {
	c := &Card{Base: entity.NewBase(coord, el, opts...), data: data}
	c.Attach(c)
	return c
}

// Factory rebuilds cards arriving from other peers.
func Factory(spec entity.Spec) (entity.Entity, error) {
	if spec.Element == nil {
		return nil, fmt.Errorf("card %s: element is required", spec.InstanceID)
	}
	return New(spec.Coordinator, spec.Element, Data{}, entity.WithInstanceID(spec.InstanceID)), nil
}

// Class registers cards on their own channel. The source peer logs when
// another peer takes over the drag.
func Class(logger *slog.Logger) coordinator.Class {
	if logger == nil {
		logger = slog.Default()
	}
	return coordinator.Class{
		Name:    ClassName,
		Channel: Channel,
		New:     Factory,
		OnEnterPeer: func(p magicdrag.Payload) {
			if p.SerializedData == nil {
				return
			}
			logger.Debug("card entered another peer",
				slog.String("instance_id", p.SerializedData.InstanceID),
			)
		},
	}
}

func (c *Card) ClassName() string { return ClassName }

func (c *Card) Data() Data {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

func (c *Card) SetData(d Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = d
}

func (c *Card) Serialize() (magicdrag.SerializedData, error) {
	return c.Snapshot(c.Data())
}

func (c *Card) Deserialize(snap magicdrag.SerializedData) error {
	var d Data
	if err := snap.Custom(&d); err != nil {
		return fmt.Errorf("card %s: %w", snap.InstanceID, err)
	}
	c.SetData(d)
	if el := c.Element(); el != nil {
		el.SetPosition(snap.Pose.Position.X, snap.Pose.Position.Y)
	}
	return nil
}

func (c *Card) OnDragStart(magicdrag.ScreenPosition) {
	p := c.Coordinator().Env().Poser
	if p == nil || c.Element() == nil {
		return
	}
	c.mu.Lock()
	c.home = p.Pose(c.Element()).Position
	c.mu.Unlock()
}

// OnDragMove keeps the card under the pointer.
func (c *Card) OnDragMove(pos magicdrag.ScreenPosition, _ bool) {
	v := c.Coordinator().Env().Viewport
	if v == nil || c.Element() == nil {
		return
	}
	pt := v.Bounds().ToClient(pos)
	off := c.DragOffset()
	c.Element().SetPosition(pt.X-off.X, pt.Y-off.Y)
}

// OnAbort puts the card back where the drag began.
func (c *Card) OnAbort(magicdrag.ScreenPosition) {
	if c.Element() == nil {
		return
	}
	c.mu.Lock()
	home := c.home
	c.mu.Unlock()
	c.Element().SetPosition(home.X, home.Y)
}
