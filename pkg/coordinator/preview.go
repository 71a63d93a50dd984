package coordinator

import (
	"log/slog"
	"time"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

const (
	previewCreated  = "created"
	previewPromoted = "promoted"
	previewRemoved  = "removed"
	previewFailed   = "failed"
)

// preview is the translucent stand-in for another peer's drag. It is
// reserved under the lock and built after it, since building runs the class
// factory. element and ent stay nil until the build lands.
type preview struct {
	instanceID string
	createdAt  time.Time
	pos        magicdrag.ScreenPosition
	offset     magicdrag.DragOffset
	element    entity.Element
	ent        entity.Entity
	promote    bool
}

// PreviewInfo describes the current preview.
type PreviewInfo struct {
	InstanceID string
	CreatedAt  time.Time
	Element    entity.Element
}

// Preview returns the built preview, if any.
func (c *Coordinator) Preview() (PreviewInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.preview
	if p == nil || p.element == nil {
		return PreviewInfo{}, false
	}
	return PreviewInfo{InstanceID: p.instanceID, CreatedAt: p.createdAt, Element: p.element}, true
}

func (c *Coordinator) createPreview(t *turn, pos magicdrag.ScreenPosition, data magicdrag.SerializedData) {
	cls, ok := c.classes[data.ClassName]
	if !ok {
		c.log.Warn("no class for preview", slog.String("class", data.ClassName))
		return
	}
	if c.opts.Renderer == nil {
		c.log.Warn("no renderer, preview skipped", slog.String("instance_id", data.InstanceID))
		return
	}
	p := &preview{
		instanceID: data.InstanceID,
		createdAt:  c.opts.Clock(),
		pos:        pos,
		offset:     data.Offset(),
	}
	c.preview = p
	snap := data.Clone()
	t.after(func() { c.buildPreview(p, cls, snap) })
}

func (c *Coordinator) buildPreview(p *preview, cls Class, data magicdrag.SerializedData) {
	log := c.log.With(slog.String("instance_id", data.InstanceID), slog.String("class", cls.Name))

	el, err := c.opts.Renderer.CreateElement(c.opts.PreviewContainer)
	if err != nil {
		log.Error("failed to create preview element", slog.Any("error", err))
		c.metrics.Preview(previewFailed)
		c.dropReservation(p)
		return
	}
	el.SetOpacity(c.opts.PreviewOpacity)
	el.SetZIndex(c.opts.PreviewZIndex)
	el.SetInteractive(false)

	e, err := cls.New(entity.Spec{InstanceID: data.InstanceID, Element: el, Coordinator: c})
	if err == nil {
		err = e.Deserialize(data)
	}
	if err != nil {
		log.Error("failed to build preview entity", slog.Any("error", err))
		c.metrics.Preview(previewFailed)
		c.discard(e, el)
		c.dropReservation(p)
		return
	}

	c.mu.Lock()
	if c.closed || (c.preview != p && !p.promote) {
		c.mu.Unlock()
		c.discard(e, el)
		return
	}
	p.element, p.ent = el, e
	c.registerInstance(e)
	if p.promote {
		el.SetOpacity(1)
		el.SetInteractive(true)
	} else {
		c.placePreview(p)
	}
	c.mu.Unlock()

	if p.promote {
		c.metrics.Preview(previewPromoted)
		log.Info("drop received, preview promoted")
		return
	}
	c.metrics.Preview(previewCreated)
	log.Debug("preview created")
}

func (c *Coordinator) dropReservation(p *preview) {
	c.mu.Lock()
	if c.preview == p {
		c.preview = nil
	}
	c.mu.Unlock()
}

// discard throws away an entity that never became the preview.
func (c *Coordinator) discard(e entity.Entity, el entity.Element) {
	if e != nil {
		c.mu.Lock()
		mine := c.instances[e.InstanceID()] == e
		if mine {
			c.unregisterInstance(e.InstanceID())
		}
		c.mu.Unlock()
	}
	el.Remove()
}

func (c *Coordinator) movePreview(pos magicdrag.ScreenPosition, off magicdrag.DragOffset) {
	p := c.preview
	p.pos, p.offset = pos, off
	c.placePreview(p)
}

func (c *Coordinator) placePreview(p *preview) {
	if p.element == nil {
		return
	}
	var pt magicdrag.Point
	if v := c.opts.Env.Viewport; v != nil {
		pt = v.Bounds().ToClient(p.pos)
	} else {
		pt = magicdrag.Point{X: p.pos.ScreenX, Y: p.pos.ScreenY}
	}
	p.element.SetPosition(pt.X-p.offset.X, pt.Y-p.offset.Y)
}

func (c *Coordinator) removePreview(t *turn) {
	p := c.preview
	if p == nil {
		return
	}
	c.preview = nil
	if p.ent == nil {
		return
	}
	if c.instances[p.instanceID] == p.ent {
		c.unregisterInstance(p.instanceID)
	}
	el := p.element
	t.after(func() {
		el.Remove()
		c.metrics.Preview(previewRemoved)
	})
}

// materialize turns a dropped snapshot into a live local entity, promoting
// the preview when it shows the same instance.
func (c *Coordinator) materialize(t *turn, data magicdrag.SerializedData) {
	cls, ok := c.classes[data.ClassName]
	if !ok {
		c.log.Warn("drop for unregistered class ignored", slog.String("class", data.ClassName))
		return
	}

	if p := c.preview; p != nil && p.instanceID == data.InstanceID {
		c.preview = nil
		if p.ent == nil {
			p.promote = true
			return
		}
		p.element.SetOpacity(1)
		p.element.SetInteractive(true)
		c.registerInstance(p.ent)
		c.metrics.Preview(previewPromoted)
		c.log.Info("drop received, preview promoted", slog.String("instance_id", data.InstanceID))
		return
	}

	if c.opts.Renderer == nil {
		c.log.Warn("no renderer, drop skipped", slog.String("instance_id", data.InstanceID))
		return
	}
	snap := data.Clone()
	t.after(func() { c.buildDropped(cls, snap) })
}

func (c *Coordinator) buildDropped(cls Class, data magicdrag.SerializedData) {
	log := c.log.With(slog.String("instance_id", data.InstanceID), slog.String("class", cls.Name))
	el, err := c.opts.Renderer.CreateElement(c.opts.PreviewContainer)
	if err != nil {
		log.Error("failed to create element for drop", slog.Any("error", err))
		return
	}
	e, err := cls.New(entity.Spec{InstanceID: data.InstanceID, Element: el, Coordinator: c})
	if err == nil {
		err = e.Deserialize(data)
	}
	if err != nil {
		log.Error("failed to build dropped entity", slog.Any("error", err))
		c.discard(e, el)
		return
	}
	c.RegisterInstance(e)
	log.Info("drop received, entity created")
}
