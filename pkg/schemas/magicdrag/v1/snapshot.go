package magicdrag

import (
	"encoding/json"
	"fmt"
)

type ScreenPosition struct {
	ScreenX float64 `json:"screenX"`
	ScreenY float64 `json:"screenY"`
}

// DragOffset is the pointer position relative to the element origin at drag start.
type DragOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Pose struct {
	Position Point   `json:"position"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

type SerializedData struct {
	InstanceID string          `json:"instanceId"`
	ClassName  string          `json:"className"`
	Pose       Pose            `json:"pose"`
	CustomData json.RawMessage `json:"customData"`
	DragOffset *DragOffset     `json:"dragOffset,omitempty"`
}

// Custom decodes CustomData into v.
func (d SerializedData) Custom(v any) error {
	if len(d.CustomData) == 0 {
		return fmt.Errorf("snapshot %s has no custom data", d.InstanceID)
	}
	if err := json.Unmarshal(d.CustomData, v); err != nil {
		return fmt.Errorf("decode custom data of %s: %w", d.ClassName, err)
	}
	return nil
}

// Offset returns the drag offset, zero when absent.
func (d SerializedData) Offset() DragOffset {
	if d.DragOffset == nil {
		return DragOffset{}
	}
	return *d.DragOffset
}

func (d SerializedData) Clone() SerializedData {
	out := d
	if d.CustomData != nil {
		out.CustomData = append(json.RawMessage(nil), d.CustomData...)
	}
	if d.DragOffset != nil {
		off := *d.DragOffset
		out.DragOffset = &off
	}
	return out
}
