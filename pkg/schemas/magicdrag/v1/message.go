package magicdrag

import "time"

type MessageType string

const (
	DragStart    MessageType = "magic_drag_start"
	DragMove     MessageType = "magic_drag_move"
	DragEnd      MessageType = "magic_drag_end"
	DragEnterTab MessageType = "magic_drag_enter_tab"
	DragLeaveTab MessageType = "magic_drag_leave_tab"
	DragDrop     MessageType = "magic_drag_drop"
	DragAbort    MessageType = "magic_drag_abort"
	TabActivated MessageType = "magic_drag_tab_activated"
	Heartbeat    MessageType = "magic_drag_heartbeat"
	HeartbeatAck MessageType = "magic_drag_heartbeat_ack"
)

// MessageTypes lists every type in protocol order.
var MessageTypes = []MessageType{
	DragStart, DragMove, DragEnd, DragEnterTab, DragLeaveTab,
	DragDrop, DragAbort, TabActivated, Heartbeat, HeartbeatAck,
}

func (t MessageType) Known() bool {
	for _, k := range MessageTypes {
		if k == t {
			return true
		}
	}
	return false
}

// IsDrag reports whether the type refers to a specific dragged instance.
func (t MessageType) IsDrag() bool {
	switch t {
	case DragStart, DragMove, DragEnd, DragDrop, DragAbort:
		return true
	}
	return false
}

type Message struct {
	Type        MessageType `json:"type"`
	InstanceID  string      `json:"instanceId"`
	SourceTabID string      `json:"sourceTabId"`
	TargetTabID string      `json:"targetTabId,omitempty"`
	Payload     Payload     `json:"payload"`
}

type Payload struct {
	SerializedData *SerializedData `json:"serializedData,omitempty"`
	ScreenPosition *ScreenPosition `json:"screenPosition,omitempty"`
	// Unix milliseconds
	Timestamp int64 `json:"timestamp"`
}

// Clone deep-copies the snapshot and position so the copy shares no memory
// with p.
func (p Payload) Clone() Payload {
	out := p
	if p.SerializedData != nil {
		d := p.SerializedData.Clone()
		out.SerializedData = &d
	}
	if p.ScreenPosition != nil {
		pos := *p.ScreenPosition
		out.ScreenPosition = &pos
	}
	return out
}

func (m Message) Clone() Message {
	m.Payload = m.Payload.Clone()
	return m
}

// ClassName returns the snapshot's class, or "" when the message carries none.
func (m Message) ClassName() string {
	if m.Payload.SerializedData == nil {
		return ""
	}
	return m.Payload.SerializedData.ClassName
}

// Stamp converts t to the payload timestamp representation.
func Stamp(t time.Time) int64 { return t.UnixMilli() }
