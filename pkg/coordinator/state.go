package coordinator

import (
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// DragState is the peer's view of the single in-flight drag. The zero value
// is idle.
type DragState struct {
	IsDragging         bool
	DraggingInstanceID string
	SourceTabID        string
	ActiveTabID        string
	SerializedData     *magicdrag.SerializedData
	LastScreenPosition *magicdrag.ScreenPosition
}

func (s DragState) clone() DragState {
	if s.SerializedData != nil {
		d := s.SerializedData.Clone()
		s.SerializedData = &d
	}
	if s.LastScreenPosition != nil {
		p := *s.LastScreenPosition
		s.LastScreenPosition = &p
	}
	return s
}

func (c *Coordinator) DragState() DragState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// IsExternalDragActive reports whether another peer's drag is in flight.
func (c *Coordinator) IsExternalDragActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.externalDrag()
}

func (c *Coordinator) externalDrag() bool {
	return c.state.IsDragging && c.state.SourceTabID != c.peerID
}

// ActiveTabID is the peer currently claiming the drag, or "".
func (c *Coordinator) ActiveTabID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.ActiveTabID
}

func (c *Coordinator) reset() {
	c.state = DragState{}
	c.pending = nil
}

// stateSnapshot copies the drag's snapshot for an outgoing message; nil when
// the drag carries none.
func (c *Coordinator) stateSnapshot() *magicdrag.SerializedData {
	if c.state.SerializedData == nil {
		return nil
	}
	return snapshotPtr(*c.state.SerializedData)
}

func snapshotPtr(data magicdrag.SerializedData) *magicdrag.SerializedData {
	d := data.Clone()
	return &d
}

// NotifyDragStart begins a local drag and announces it.
func (c *Coordinator) NotifyDragStart(instanceID string, data magicdrag.SerializedData) {
	c.do(func(t *turn) {
		c.state = DragState{
			IsDragging:         true,
			DraggingInstanceID: instanceID,
			SourceTabID:        c.peerID,
			ActiveTabID:        c.peerID,
			SerializedData:     snapshotPtr(data),
		}
		msg := c.newMessage(magicdrag.DragStart, instanceID, "", magicdrag.Payload{
			SerializedData: snapshotPtr(data),
		})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
	})
}

// NotifyDragMove records the pointer and announces it. The own peer claims
// the drag while the pointer is inside its viewport.
func (c *Coordinator) NotifyDragMove(instanceID string, pos magicdrag.ScreenPosition, data magicdrag.SerializedData) {
	c.do(func(t *turn) {
		p := pos
		c.state.LastScreenPosition = &p
		c.state.SerializedData = snapshotPtr(data)
		if c.state.IsDragging && c.state.SourceTabID == c.peerID {
			if v := c.opts.Env.Viewport; v != nil {
				switch {
				case v.Bounds().Contains(pos):
					c.state.ActiveTabID = c.peerID
				case c.state.ActiveTabID == c.peerID:
					c.state.ActiveTabID = ""
				}
			}
		}
		msg := c.newMessage(magicdrag.DragMove, instanceID, "", magicdrag.Payload{
			SerializedData: snapshotPtr(data),
			ScreenPosition: &p,
		})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
	})
}

// NotifyDragEnd announces a release inside the own viewport. A drag that
// belongs to another peer keeps its state until that peer ends it.
func (c *Coordinator) NotifyDragEnd(instanceID string, data magicdrag.SerializedData) {
	c.do(func(t *turn) {
		external := c.externalDrag()
		msg := c.newMessage(magicdrag.DragEnd, instanceID, "", magicdrag.Payload{
			SerializedData: snapshotPtr(data),
		})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
		if !external {
			c.reset()
		}
	})
}

// NotifyDragDrop hands the entity to targetTabID.
func (c *Coordinator) NotifyDragDrop(instanceID string, data magicdrag.SerializedData, targetTabID string) {
	c.do(func(t *turn) {
		msg := c.newMessage(magicdrag.DragDrop, instanceID, targetTabID, magicdrag.Payload{
			SerializedData: snapshotPtr(data),
		})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
		c.reset()
		c.removePreview(t)
	})
}

// NotifyDragAbort announces a release over no peer.
func (c *Coordinator) NotifyDragAbort(instanceID string, data magicdrag.SerializedData) {
	c.do(func(t *turn) {
		msg := c.newMessage(magicdrag.DragAbort, instanceID, "", magicdrag.Payload{
			SerializedData: snapshotPtr(data),
		})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
		c.reset()
		c.removePreview(t)
	})
}
