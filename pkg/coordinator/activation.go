package coordinator

import (
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// Activate marks the peer as the one the user is pointing at. The first
// activation announces it and, when another peer's drag is in flight, shows
// the preview at pos. Later calls do nothing until Deactivate.
func (c *Coordinator) Activate(pos magicdrag.ScreenPosition) {
	c.do(func(t *turn) {
		if c.activated {
			return
		}
		c.activated = true
		msg := c.newMessage(magicdrag.TabActivated, "", "", magicdrag.Payload{ScreenPosition: &pos})
		c.dispatch(t, msg)
		c.broadcast(t, msg)

		if c.pending == nil || !c.externalDrag() || c.preview != nil || c.state.SerializedData == nil {
			return
		}
		c.createPreview(t, pos, *c.state.SerializedData)
	})
}

// Deactivate re-arms Activate, typically when the peer loses focus.
func (c *Coordinator) Deactivate() {
	c.do(func(*turn) { c.activated = false })
}

func (c *Coordinator) Activated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated
}
