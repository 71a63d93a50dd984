package entity

import (
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// Element is the visual unit an entity is bound to.
type Element interface {
	SetPosition(left, top float64)
	SetOpacity(v float64)
	SetZIndex(z int)
	SetInteractive(on bool)
	Remove()
}

type Renderer interface {
	CreateElement(container string) (Element, error)
}

// Poser reports an element's footprint in viewport coordinates.
type Poser interface {
	Pose(el Element) magicdrag.Pose
}

// Rect is the peer viewport in screen coordinates.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Contains uses inclusive bounds.
func (r Rect) Contains(p magicdrag.ScreenPosition) bool {
	x, y := p.ScreenX-r.X, p.ScreenY-r.Y
	return x >= 0 && x <= r.Width && y >= 0 && y <= r.Height
}

// Outside reports whether p lies outside r shrunk by margin on every side.
func (r Rect) Outside(p magicdrag.ScreenPosition, margin float64) bool {
	x, y := p.ScreenX-r.X, p.ScreenY-r.Y
	return x < margin || x > r.Width-margin || y < margin || y > r.Height-margin
}

// ToClient converts a screen position to viewport coordinates.
func (r Rect) ToClient(p magicdrag.ScreenPosition) magicdrag.Point {
	return magicdrag.Point{X: p.ScreenX - r.X, Y: p.ScreenY - r.Y}
}

func (r Rect) ToScreen(p magicdrag.Point) magicdrag.ScreenPosition {
	return magicdrag.ScreenPosition{ScreenX: r.X + p.X, ScreenY: r.Y + p.Y}
}

type Viewport interface {
	Bounds() Rect
}

// GestureHandler receives gesture callbacks. Samples are pointer positions in
// viewport coordinates; the first one is the primary pointer.
type GestureHandler interface {
	GestureStart(samples []magicdrag.Point)
	GestureMove(samples []magicdrag.Point)
	GestureEnd(samples []magicdrag.Point)
}

type Gesture interface {
	Disable()
}

type GestureBinder interface {
	Bind(el Element, h GestureHandler) Gesture
}

// Env bundles the collaborators shared by every entity of a peer.
type Env struct {
	Viewport Viewport
	Poser    Poser
	Gestures GestureBinder
}
