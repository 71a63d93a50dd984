package coordinator

import (
	"context"
	"log/slog"

	"github.com/roboricindustries/raycon-drag/pkg/entity"
	"github.com/roboricindustries/raycon-drag/pkg/observability"
	"github.com/roboricindustries/raycon-drag/pkg/pubsub"
	"github.com/roboricindustries/raycon-drag/pkg/schemas/common"
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

func (c *Coordinator) inbound(channel string) pubsub.Handler {
	return func(_ context.Context, env common.Envelope) {
		c.receive(channel, env)
	}
}

// receive decodes one envelope and runs it through the state machine.
func (c *Coordinator) receive(channel string, env common.Envelope) {
	log := c.log.With(slog.String("channel", channel), slog.String("envelope_id", env.Meta.ID))

	in, err := common.Unwrap[magicdrag.Message](env)
	if err != nil {
		c.metrics.Dropped(observability.DropDecode)
		log.Warn("dropping undecodable message", slog.Any("error", err))
		return
	}
	msg := in.Data
	if err := msg.Validate(); err != nil {
		c.metrics.Dropped(observability.DropInvalid)
		log.Warn("dropping invalid message", slog.Any("error", err))
		return
	}
	if msg.SourceTabID == c.peerID {
		c.metrics.Dropped(observability.DropSelfEcho)
		return
	}

	c.do(func(t *turn) { c.handle(t, channel, msg) })
}

func (c *Coordinator) handle(t *turn, channel string, msg magicdrag.Message) {
	if name := msg.ClassName(); name != "" {
		if _, ok := c.classes[name]; !ok {
			c.metrics.Dropped(observability.DropUnknownClass)
			c.log.Warn("message for unregistered class ignored",
				slog.String("class", name),
				slog.String("type", string(msg.Type)),
				slog.String("channel", channel),
			)
			return
		}
	}

	c.metrics.Received(channel, string(msg.Type))
	c.touch(msg.SourceTabID)
	c.dispatch(t, msg)

	switch msg.Type {
	case magicdrag.DragStart:
		c.onRemoteStart(t, msg)
	case magicdrag.DragMove:
		c.onRemoteMove(t, msg)
	case magicdrag.DragEnd:
		c.onRemoteEnd(t, msg)
	case magicdrag.DragEnterTab:
		c.onEnterTab(t, msg)
	case magicdrag.DragLeaveTab:
		c.onLeaveTab(msg)
	case magicdrag.DragDrop:
		c.onDrop(t, msg)
	case magicdrag.DragAbort:
		c.onAbort(t, msg)
	case magicdrag.TabActivated:
		c.onTabActivated(t, msg)
	case magicdrag.Heartbeat:
		ack := c.newMessage(magicdrag.HeartbeatAck, "", msg.SourceTabID, magicdrag.Payload{})
		c.broadcast(t, ack)
	case magicdrag.HeartbeatAck:
		// presence already refreshed
	}
}

func (c *Coordinator) onRemoteStart(t *turn, msg magicdrag.Message) {
	c.state = DragState{
		IsDragging:         true,
		DraggingInstanceID: msg.InstanceID,
		SourceTabID:        msg.SourceTabID,
		ActiveTabID:        msg.SourceTabID,
	}
	if d := msg.Payload.SerializedData; d != nil {
		c.state.SerializedData = snapshotPtr(*d)
	}
	if p := msg.Payload.ScreenPosition; p != nil {
		pos := *p
		c.state.LastScreenPosition = &pos
	}
	m := msg
	c.pending = &m
	c.otherPeer(t, msg, func(e entity.Entity, p magicdrag.Payload) {
		if h, ok := e.(entity.OtherPeerDragStartHook); ok {
			h.OnOtherPeerDragStart(p)
		}
	})
}

// onRemoteMove follows another peer's pointer. While it is inside this
// peer's viewport the drag is claimed here and a preview is shown; leaving
// again releases the claim.
func (c *Coordinator) onRemoteMove(t *turn, msg magicdrag.Message) {
	if !c.state.IsDragging {
		c.onRemoteStart(t, msg)
	}
	if d := msg.Payload.SerializedData; d != nil {
		c.state.SerializedData = snapshotPtr(*d)
	}
	pos := msg.Payload.ScreenPosition
	if pos != nil {
		p := *pos
		c.state.LastScreenPosition = &p
	}

	if pos != nil && c.opts.Env.Viewport != nil {
		if c.opts.Env.Viewport.Bounds().Contains(*pos) {
			c.state.ActiveTabID = c.peerID
			enter := c.newMessage(magicdrag.DragEnterTab, msg.InstanceID, c.peerID, magicdrag.Payload{
				SerializedData: c.stateSnapshot(),
			})
			c.dispatch(t, enter)
			c.broadcast(t, enter)
			if c.preview == nil && c.state.SerializedData != nil {
				c.createPreview(t, *pos, *c.state.SerializedData)
			}
		} else if c.state.ActiveTabID == c.peerID {
			c.state.ActiveTabID = ""
			leave := c.newMessage(magicdrag.DragLeaveTab, msg.InstanceID, msg.SourceTabID, magicdrag.Payload{
				SerializedData: c.stateSnapshot(),
			})
			c.dispatch(t, leave)
			c.broadcast(t, leave)
		}
	}

	if pos != nil && c.preview != nil {
		var off magicdrag.DragOffset
		if c.state.SerializedData != nil {
			off = c.state.SerializedData.Offset()
		}
		c.movePreview(*pos, off)
	}

	c.otherPeer(t, msg, func(e entity.Entity, p magicdrag.Payload) {
		if h, ok := e.(entity.OtherPeerDragMoveHook); ok {
			h.OnOtherPeerDragMove(p)
		}
	})
}

func (c *Coordinator) onRemoteEnd(t *turn, msg magicdrag.Message) {
	if c.state.SourceTabID != msg.SourceTabID {
		return
	}
	c.otherPeer(t, msg, func(e entity.Entity, p magicdrag.Payload) {
		if h, ok := e.(entity.OtherPeerDragEndHook); ok {
			h.OnOtherPeerDragEnd(p)
		}
	})
	c.reset()
	c.removePreview(t)
}

// onEnterTab records which peer claims the drag. On the drag source the
// class is told so it can react to the hand-over.
func (c *Coordinator) onEnterTab(t *turn, msg magicdrag.Message) {
	if !c.state.IsDragging || c.state.DraggingInstanceID != msg.InstanceID {
		return
	}
	claimer := msg.TargetTabID
	if claimer == "" {
		claimer = msg.SourceTabID
	}
	c.state.ActiveTabID = claimer

	if c.state.SourceTabID != c.peerID {
		return
	}
	if cls, ok := c.classes[c.classOf(msg)]; ok && cls.OnEnterPeer != nil {
		hook, p := cls.OnEnterPeer, msg.Payload.Clone()
		t.after(func() { hook(p) })
	}
}

func (c *Coordinator) onLeaveTab(msg magicdrag.Message) {
	if !c.state.IsDragging || c.state.SourceTabID != c.peerID {
		return
	}
	if msg.TargetTabID != "" && msg.TargetTabID != c.peerID {
		return
	}
	if c.state.ActiveTabID == msg.SourceTabID {
		c.state.ActiveTabID = ""
	}
}

func (c *Coordinator) onDrop(t *turn, msg magicdrag.Message) {
	if msg.TargetTabID == c.peerID && msg.Payload.SerializedData != nil {
		c.materialize(t, *msg.Payload.SerializedData)
	}
	c.reset()
	c.removePreview(t)
}

// onAbort clears the drag unless it belongs to a different peer's drag
// that is still running.
func (c *Coordinator) onAbort(t *turn, msg magicdrag.Message) {
	if c.state.IsDragging && c.state.SourceTabID != msg.SourceTabID {
		return
	}
	c.reset()
	c.removePreview(t)
}

// onTabActivated releases a local drag's claim on behalf of a peer that the
// user just switched to.
func (c *Coordinator) onTabActivated(t *turn, msg magicdrag.Message) {
	if !c.state.IsDragging || c.state.SourceTabID != c.peerID {
		return
	}
	leave := c.newMessage(magicdrag.DragLeaveTab, c.state.DraggingInstanceID, msg.SourceTabID, magicdrag.Payload{
		SerializedData: c.stateSnapshot(),
	})
	c.dispatch(t, leave)
	c.broadcast(t, leave)
}

// otherPeer queues fn for every local instance of the dragged class.
func (c *Coordinator) otherPeer(t *turn, msg magicdrag.Message, fn func(entity.Entity, magicdrag.Payload)) {
	name := msg.ClassName()
	if name == "" {
		return
	}
	for _, e := range c.instancesOf(name) {
		e, p := e, msg.Payload.Clone()
		t.after(func() { fn(e, p) })
	}
}
