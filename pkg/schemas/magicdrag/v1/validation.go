package magicdrag

import (
	"errors"
	"strings"
)

type ValidationIssue struct{ Field, Reason string }

type ValidationError struct{ Issues []ValidationIssue }

var ErrInvalidMessage = errors.New("invalid drag message")

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return ErrInvalidMessage.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Reason)
	}
	return ErrInvalidMessage.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) add(f, r string) {
	e.Issues = append(e.Issues, ValidationIssue{Field: f, Reason: r})
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidMessage }

func (m *Message) Validate() error {
	ve := &ValidationError{}

	if !m.Type.Known() {
		ve.add("type", "unknown")
	}
	if m.SourceTabID == "" {
		ve.add("sourceTabId", "required")
	}
	if m.Type.IsDrag() && m.InstanceID == "" {
		ve.add("instanceId", "required for drag messages")
	}
	switch m.Type {
	case DragMove:
		if m.Payload.ScreenPosition == nil {
			ve.add("payload.screenPosition", "required for move")
		}
	case DragDrop:
		if m.TargetTabID == "" {
			ve.add("targetTabId", "required for drop")
		}
	}
	if d := m.Payload.SerializedData; d != nil {
		if d.InstanceID == "" {
			ve.add("payload.serializedData.instanceId", "required")
		}
		if d.ClassName == "" {
			ve.add("payload.serializedData.className", "required")
		}
	}

	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}
