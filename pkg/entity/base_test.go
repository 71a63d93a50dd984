package entity_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/entity/headless"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

type call struct {
	op     string
	id     string
	target string
	pos    magicdrag.ScreenPosition
	data   magicdrag.SerializedData
}

type fakeCoordinator struct {
	env entity.Env

	mu         sync.Mutex
	active     string
	calls      []call
	registered map[string]entity.Entity
	unregs     int
}

func newFakeCoordinator(env entity.Env) *fakeCoordinator {
	return &fakeCoordinator{env: env, registered: make(map[string]entity.Entity)}
}

func (f *fakeCoordinator) PeerID() string { return "self" }

func (f *fakeCoordinator) Env() entity.Env { return f.env }

func (f *fakeCoordinator) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fakeCoordinator) ActiveTabID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCoordinator) setActive(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = id
}

func (f *fakeCoordinator) RegisterInstance(e entity.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[e.InstanceID()] = e
}

func (f *fakeCoordinator) UnregisterInstance(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
	f.unregs++
}

func (f *fakeCoordinator) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeCoordinator) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeCoordinator) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeCoordinator) NotifyDragStart(id string, data magicdrag.SerializedData) {
	f.record(call{op: "start", id: id, data: data})
}

func (f *fakeCoordinator) NotifyDragMove(id string, pos magicdrag.ScreenPosition, data magicdrag.SerializedData) {
	f.record(call{op: "move", id: id, pos: pos, data: data})
}

func (f *fakeCoordinator) NotifyDragEnd(id string, data magicdrag.SerializedData) {
	f.record(call{op: "end", id: id, data: data})
}

func (f *fakeCoordinator) NotifyDragDrop(id string, data magicdrag.SerializedData, target string) {
	f.record(call{op: "drop", id: id, target: target, data: data})
}

func (f *fakeCoordinator) NotifyDragAbort(id string, data magicdrag.SerializedData) {
	f.record(call{op: "abort", id: id, data: data})
}

// widget is a minimal entity that records its hooks.
type widget struct {
	*entity.Base

	mu      sync.Mutex
	hooks   []string
	failing bool
}

func (w *widget) ClassName() string { return "Widget" }

func (w *widget) Serialize() (magicdrag.SerializedData, error) {
	w.mu.Lock()
	failing := w.failing
	w.mu.Unlock()
	if failing {
		return magicdrag.SerializedData{}, errors.New("broken")
	}
	return w.Snapshot(map[string]string{"k": "v"})
}

func (w *widget) Deserialize(magicdrag.SerializedData) error { return nil }

func (w *widget) hook(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, s)
}

func (w *widget) seen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.hooks...)
}

func (w *widget) OnDragStart(magicdrag.ScreenPosition) { w.hook("start") }
func (w *widget) OnLeaveViewport(magicdrag.ScreenPosition) { w.hook("leave") }
func (w *widget) OnEnterViewport(magicdrag.ScreenPosition) { w.hook("enter") }
func (w *widget) OnAbort(magicdrag.ScreenPosition) { w.hook("abort") }
func (w *widget) OnDragEnd(magicdrag.ScreenPosition, bool) { w.hook("end") }
func (w *widget) OnDragMove(_ magicdrag.ScreenPosition, _ bool) {}

type fixture struct {
	coord   *fakeCoordinator
	widget  *widget
	el      *headless.Element
	gesture *headless.Gesture
}

// newFixture puts a 100x50 widget at (10, 10) in an 800x600 viewport whose
// screen origin is (1000, 0).
func newFixture(t *testing.T) fixture {
	t.Helper()
	gestures := headless.NewGestures()
	coord := newFakeCoordinator(entity.Env{
		Viewport: headless.NewViewport(1000, 0, 800, 600),
		Poser:    headless.Poser{},
		Gestures: gestures,
	})
	el := headless.NewElement("w", 100, 50)
	el.SetPosition(10, 10)
	w := &widget{Base: entity.NewBase(coord, el, entity.WithInstanceID("w1"))}
	w.Attach(w)
	g := gestures.For(el)
	require.NotNil(t, g)
	return fixture{coord: coord, widget: w, el: el, gesture: g}
}

func TestAttachRegisters(t *testing.T) {
	f := newFixture(t)
	assert.Same(t, f.widget, f.coord.registered["w1"])
	assert.Equal(t, "w1", f.widget.InstanceID())
}

func TestGestureStartRecordsOffset(t *testing.T) {
	f := newFixture(t)
	f.gesture.Start(25, 30)

	assert.True(t, f.widget.Dragging())
	assert.Equal(t, magicdrag.DragOffset{X: 15, Y: 20}, f.widget.DragOffset())
	require.Equal(t, []string{"start"}, f.coord.ops())
	snap := f.coord.last().data
	assert.Equal(t, "w1", snap.InstanceID)
	assert.Equal(t, "Widget", snap.ClassName)
	assert.Equal(t, magicdrag.Point{X: 10, Y: 10}, snap.Pose.Position)
	assert.Equal(t, magicdrag.DragOffset{X: 15, Y: 20}, snap.Offset())
	assert.JSONEq(t, `{"k":"v"}`, string(snap.CustomData))
	assert.Equal(t, []string{"start"}, f.widget.seen())
}

func TestLeaveAndEnterAreEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	f.gesture.Start(20, 20)

	f.gesture.Move(400, 300)
	f.gesture.Move(5, 300) // inside the 10px margin
	f.gesture.Move(-50, 300)
	f.gesture.Move(400, 300)
	f.gesture.Move(410, 300)

	assert.Equal(t, []string{"start", "leave", "enter"}, f.widget.seen())
	assert.Equal(t, magicdrag.ScreenPosition{ScreenX: 1410, ScreenY: 300}, f.coord.last().pos)
	assert.False(t, f.widget.HasLeftViewport())
}

func TestReleaseOverClaimingPeerDrops(t *testing.T) {
	f := newFixture(t)
	f.gesture.Start(20, 20)
	f.gesture.Move(900, 100)
	f.coord.setActive("other")
	f.gesture.End()

	assert.Equal(t, []string{"start", "move", "drop"}, f.coord.ops()[:3])
	last := f.coord.last()
	assert.Equal(t, "drop", last.op)
	assert.Equal(t, "other", last.target)
	assert.True(t, f.el.Style().Removed)
	assert.True(t, f.gesture.Disabled())
	assert.NotContains(t, f.coord.registered, "w1")
}

func TestReleaseOverNoPeerAborts(t *testing.T) {
	f := newFixture(t)
	f.gesture.Start(20, 20)
	f.gesture.Move(900, 100)
	f.gesture.End()

	assert.Equal(t, "abort", f.coord.last().op)
	assert.Equal(t, []string{"start", "leave", "abort"}, f.widget.seen())
	assert.False(t, f.el.Style().Removed)
	assert.False(t, f.widget.Dragging())
}

func TestReleaseInsideEnds(t *testing.T) {
	f := newFixture(t)
	f.coord.setActive("other")
	f.gesture.Start(20, 20)
	f.gesture.Move(200, 100)
	f.gesture.End()

	assert.Equal(t, []string{"start", "move", "end"}, f.coord.ops())
	assert.Equal(t, []string{"start", "end"}, f.widget.seen())
	assert.False(t, f.el.Style().Removed)
}

func TestReleaseWithoutDragIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.gesture.Move(200, 100)
	f.gesture.End()
	assert.Empty(t, f.coord.ops())
}

func TestSerializeFailureReusesLastSnapshot(t *testing.T) {
	f := newFixture(t)
	f.gesture.Start(20, 20)
	f.widget.mu.Lock()
	f.widget.failing = true
	f.widget.mu.Unlock()

	f.gesture.Move(200, 100)
	last := f.coord.last()
	assert.Equal(t, "move", last.op)
	assert.Equal(t, "w1", last.data.InstanceID)
}

func TestSerializeFailureOnStartCancelsDrag(t *testing.T) {
	f := newFixture(t)
	f.widget.failing = true
	f.gesture.Start(20, 20)
	assert.False(t, f.widget.Dragging())
	assert.Empty(t, f.coord.ops())
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.widget.Destroy()
	f.widget.Destroy()

	assert.Equal(t, 1, f.coord.unregs)
	assert.True(t, f.el.Style().Removed)
	assert.True(t, f.gesture.Disabled())

	f.gesture.Start(20, 20)
	assert.Empty(t, f.coord.ops())
}

func TestRect(t *testing.T) {
	r := entity.Rect{X: 100, Y: 50, Width: 200, Height: 100}

	assert.True(t, r.Contains(magicdrag.ScreenPosition{ScreenX: 100, ScreenY: 50}))
	assert.True(t, r.Contains(magicdrag.ScreenPosition{ScreenX: 300, ScreenY: 150}))
	assert.False(t, r.Contains(magicdrag.ScreenPosition{ScreenX: 301, ScreenY: 150}))

	assert.False(t, r.Outside(magicdrag.ScreenPosition{ScreenX: 110, ScreenY: 60}, 10))
	assert.True(t, r.Outside(magicdrag.ScreenPosition{ScreenX: 109, ScreenY: 60}, 10))

	pt := r.ToClient(magicdrag.ScreenPosition{ScreenX: 150, ScreenY: 70})
	assert.Equal(t, magicdrag.Point{X: 50, Y: 20}, pt)
	assert.Equal(t, magicdrag.ScreenPosition{ScreenX: 150, ScreenY: 70}, r.ToScreen(pt))
}
