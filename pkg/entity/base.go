package entity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// LeaveMargin is how far inside its own viewport edge the pointer must stay
// for a drag to count as "still here".
const LeaveMargin = 10

// Base carries the local drag lifecycle shared by every entity kind.
type Base struct {
	id      string
	el      Element
	coord   Coordinator
	self    Entity
	gesture Gesture

	mu         sync.Mutex
	dragging   bool
	hasLeftTab bool
	offset     magicdrag.DragOffset
	lastPos    *magicdrag.ScreenPosition
	lastSnap   *magicdrag.SerializedData
	destroyed  bool
}

type BaseOption func(*Base)

// WithInstanceID reuses an id, e.g. when rebuilding an entity from a snapshot.
func WithInstanceID(id string) BaseOption {
	return func(b *Base) {
		if id != "" {
			b.id = id
		}
	}
}

func NewBase(coord Coordinator, el Element, opts ...BaseOption) *Base {
	b := &Base{
		id:    uuid.NewString(),
		el:    el,
		coord: coord,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Attach finishes construction: self is the concrete entity embedding b. It
// binds gestures and registers the entity with the coordinator.
func (b *Base) Attach(self Entity) {
	b.self = self
	if g := b.coord.Env().Gestures; g != nil && b.el != nil {
		b.gesture = g.Bind(b.el, b)
	}
	b.coord.RegisterInstance(self)
}

func (b *Base) InstanceID() string { return b.id }

func (b *Base) Element() Element { return b.el }

func (b *Base) Coordinator() Coordinator { return b.coord }

func (b *Base) Dragging() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dragging
}

func (b *Base) HasLeftViewport() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hasLeftTab
}

func (b *Base) DragOffset() magicdrag.DragOffset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

// Snapshot builds the serialized form of the entity with the given custom data.
func (b *Base) Snapshot(customData any) (magicdrag.SerializedData, error) {
	raw, err := json.Marshal(customData)
	if err != nil {
		return magicdrag.SerializedData{}, fmt.Errorf("marshal custom data: %w", err)
	}
	b.mu.Lock()
	offset := b.offset
	b.mu.Unlock()

	return magicdrag.SerializedData{
		InstanceID: b.id,
		ClassName:  b.className(),
		Pose:       b.pose(),
		CustomData: raw,
		DragOffset: &offset,
	}, nil
}

func (b *Base) className() string {
	if b.self == nil {
		return ""
	}
	return b.self.ClassName()
}

func (b *Base) pose() magicdrag.Pose {
	p := b.coord.Env().Poser
	if p == nil || b.el == nil {
		return magicdrag.Pose{}
	}
	return p.Pose(b.el)
}

func (b *Base) bounds() Rect {
	v := b.coord.Env().Viewport
	if v == nil {
		return Rect{}
	}
	return v.Bounds()
}

func (b *Base) log() *slog.Logger {
	return b.coord.Logger().With(
		slog.String("instance_id", b.id),
		slog.String("class", b.className()),
	)
}

func (b *Base) serialize() (magicdrag.SerializedData, bool) {
	if b.self == nil {
		b.log().Error("entity used before Attach")
		return magicdrag.SerializedData{}, false
	}
	data, err := b.self.Serialize()
	if err != nil {
		b.mu.Lock()
		last := b.lastSnap
		b.mu.Unlock()
		b.log().Error("serialize failed", slog.Any("error", err))
		if last == nil {
			return magicdrag.SerializedData{}, false
		}
		return last.Clone(), true
	}
	b.mu.Lock()
	snap := data.Clone()
	b.lastSnap = &snap
	b.mu.Unlock()
	return data, true
}

// screenPosition maps the primary sample to screen coordinates, falling back
// to the element centre.
func (b *Base) screenPosition(samples []magicdrag.Point) magicdrag.ScreenPosition {
	r := b.bounds()
	if len(samples) > 0 {
		return r.ToScreen(samples[0])
	}
	p := b.pose()
	return r.ToScreen(magicdrag.Point{
		X: p.Position.X + p.Width/2,
		Y: p.Position.Y + p.Height/2,
	})
}

func (b *Base) GestureStart(samples []magicdrag.Point) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.dragging = true
	b.hasLeftTab = false
	b.lastPos = nil
	if len(samples) > 0 {
		origin := b.pose().Position
		b.offset = magicdrag.DragOffset{
			X: samples[0].X - origin.X,
			Y: samples[0].Y - origin.Y,
		}
		pos := b.bounds().ToScreen(samples[0])
		b.lastPos = &pos
	}
	b.mu.Unlock()

	data, ok := b.serialize()
	if !ok {
		b.mu.Lock()
		b.dragging = false
		b.mu.Unlock()
		return
	}
	b.coord.NotifyDragStart(b.id, data)

	pos := b.screenPosition(samples)
	if h, ok := b.self.(DragStartHook); ok {
		h.OnDragStart(pos)
	}
}

func (b *Base) GestureMove(samples []magicdrag.Point) {
	b.mu.Lock()
	if !b.dragging {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	pos := b.screenPosition(samples)
	left := b.bounds().Outside(pos, LeaveMargin)
	data, ok := b.serialize()
	if !ok {
		return
	}

	b.mu.Lock()
	b.lastPos = &pos
	crossedOut := left && !b.hasLeftTab
	crossedIn := !left && b.hasLeftTab
	if crossedOut || crossedIn {
		b.hasLeftTab = left
	}
	b.mu.Unlock()

	b.coord.NotifyDragMove(b.id, pos, data)

	switch {
	case crossedOut:
		if h, ok := b.self.(LeaveViewportHook); ok {
			h.OnLeaveViewport(pos)
		}
	case crossedIn:
		if h, ok := b.self.(EnterViewportHook); ok {
			h.OnEnterViewport(pos)
		}
	}
	if h, ok := b.self.(DragMoveHook); ok {
		h.OnDragMove(pos, left)
	}
}

func (b *Base) GestureEnd(samples []magicdrag.Point) {
	b.mu.Lock()
	if !b.dragging {
		b.mu.Unlock()
		return
	}
	hasLeft := b.hasLeftTab
	var pos magicdrag.ScreenPosition
	if b.lastPos != nil {
		pos = *b.lastPos
	}
	hadPos := b.lastPos != nil
	b.dragging = false
	b.hasLeftTab = false
	b.mu.Unlock()

	if !hadPos {
		pos = b.screenPosition(samples)
	}
	data, ok := b.serialize()
	if !ok {
		return
	}

	active := b.coord.ActiveTabID()
	switch {
	case hasLeft && active != "" && active != b.coord.PeerID():
		b.coord.NotifyDragDrop(b.id, data, active)
		b.self.Destroy()
	case hasLeft && active == "":
		b.coord.NotifyDragAbort(b.id, data)
		if h, ok := b.self.(AbortHook); ok {
			h.OnAbort(pos)
		}
	default:
		b.coord.NotifyDragEnd(b.id, data)
		if h, ok := b.self.(DragEndHook); ok {
			h.OnDragEnd(pos, hasLeft)
		}
	}
}

// Destroy disables the gesture, unregisters the entity and removes its
// element. Later calls do nothing.
func (b *Base) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.dragging = false
	b.mu.Unlock()

	if b.gesture != nil {
		b.gesture.Disable()
	}
	b.coord.UnregisterInstance(b.id)
	if b.el != nil {
		b.el.Remove()
	}
}
