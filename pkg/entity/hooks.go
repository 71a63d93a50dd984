package entity

import (
	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

// Optional capabilities. An entity opts in by implementing the interface.

type DragStartHook interface {
	OnDragStart(pos magicdrag.ScreenPosition)
}

type DragMoveHook interface {
	OnDragMove(pos magicdrag.ScreenPosition, leftViewport bool)
}

type DragEndHook interface {
	OnDragEnd(pos magicdrag.ScreenPosition, leftViewport bool)
}

// AbortHook fires when the drag was released over no peer. The entity is
// kept; implementations usually snap it back.
type AbortHook interface {
	OnAbort(pos magicdrag.ScreenPosition)
}

type LeaveViewportHook interface {
	OnLeaveViewport(pos magicdrag.ScreenPosition)
}

type EnterViewportHook interface {
	OnEnterViewport(pos magicdrag.ScreenPosition)
}

// Other-peer hooks are called on every local instance of the dragged class
// while another peer drags one of its instances.

type OtherPeerDragStartHook interface {
	OnOtherPeerDragStart(p magicdrag.Payload)
}

type OtherPeerDragMoveHook interface {
	OnOtherPeerDragMove(p magicdrag.Payload)
}

type OtherPeerDragEndHook interface {
	OnOtherPeerDragEnd(p magicdrag.Payload)
}
