// Package headless provides in-memory collaborators for peers that have no
// screen: daemons, relays and tests.
package headless

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// Element records the styling requested by the core.
type Element struct {
	ID        string
	Container string

	mu          sync.Mutex
	left, top   float64
	width       float64
	height      float64
	opacity     float64
	zIndex      int
	interactive bool
	removed     bool
}

func NewElement(id string, width, height float64) *Element {
	return &Element{ID: id, width: width, height: height, opacity: 1, interactive: true}
}

func (e *Element) SetPosition(left, top float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.left, e.top = left, top
}

func (e *Element) SetOpacity(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opacity = v
}

func (e *Element) SetZIndex(z int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zIndex = z
}

func (e *Element) SetInteractive(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interactive = on
}

func (e *Element) Remove() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
}

func (e *Element) SetSize(width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = width, height
}

// Style is a point-in-time copy of the element's state.
type Style struct {
	Left, Top     float64
	Width, Height float64
	Opacity       float64
	ZIndex        int
	Interactive   bool
	Removed       bool
}

func (e *Element) Style() Style {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Style{
		Left:        e.left,
		Top:         e.top,
		Width:       e.width,
		Height:      e.height,
		Opacity:     e.opacity,
		ZIndex:      e.zIndex,
		Interactive: e.interactive,
		Removed:     e.removed,
	}
}

// Renderer creates headless elements and keeps every one it made.
type Renderer struct {
	mu       sync.Mutex
	elements []*Element
	seq      atomic.Uint64
	width    float64
	height   float64
	fail     error
}

func NewRenderer(width, height float64) *Renderer {
	return &Renderer{width: width, height: height}
}

// FailWith makes subsequent CreateElement calls return err.
func (r *Renderer) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *Renderer) CreateElement(container string) (entity.Element, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	el := NewElement(fmt.Sprintf("el-%d", r.seq.Add(1)), r.width, r.height)
	el.Container = container
	r.elements = append(r.elements, el)
	return el, nil
}

func (r *Renderer) Elements() []*Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Element(nil), r.elements...)
}

// Poser reads positions back from headless elements.
type Poser struct{}

func (Poser) Pose(el entity.Element) magicdrag.Pose {
	h, ok := el.(*Element)
	if !ok {
		return magicdrag.Pose{}
	}
	s := h.Style()
	return magicdrag.Pose{
		Position: magicdrag.Point{X: s.Left, Y: s.Top},
		Width:    s.Width,
		Height:   s.Height,
	}
}

// Viewport is a movable window rectangle.
type Viewport struct {
	mu   sync.Mutex
	rect entity.Rect
}

func NewViewport(x, y, width, height float64) *Viewport {
	return &Viewport{rect: entity.Rect{X: x, Y: y, Width: width, Height: height}}
}

func (v *Viewport) Bounds() entity.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rect
}

func (v *Viewport) MoveTo(x, y float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rect.X, v.rect.Y = x, y
}

// Gestures binds scripted gestures. Tests drive them through Gesture.
type Gestures struct {
	mu    sync.Mutex
	bound map[entity.Element]*Gesture
}

func NewGestures() *Gestures {
	return &Gestures{bound: make(map[entity.Element]*Gesture)}
}

func (g *Gestures) Bind(el entity.Element, h entity.GestureHandler) entity.Gesture {
	g.mu.Lock()
	defer g.mu.Unlock()
	gs := &Gesture{handler: h}
	g.bound[el] = gs
	return gs
}

// For returns the gesture bound to el, or nil.
func (g *Gestures) For(el entity.Element) *Gesture {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bound[el]
}

type Gesture struct {
	handler  entity.GestureHandler
	disabled atomic.Bool
}

func (g *Gesture) Disable() { g.disabled.Store(true) }

func (g *Gesture) Disabled() bool { return g.disabled.Load() }

func (g *Gesture) Start(x, y float64) {
	if !g.disabled.Load() {
		g.handler.GestureStart([]magicdrag.Point{{X: x, Y: y}})
	}
}

func (g *Gesture) Move(x, y float64) {
	if !g.disabled.Load() {
		g.handler.GestureMove([]magicdrag.Point{{X: x, Y: y}})
	}
}

func (g *Gesture) End() {
	if !g.disabled.Load() {
		g.handler.GestureEnd(nil)
	}
}
