package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is what travels on a channel. Data holds the JSON-encoded message
// so transports never need to know the payload type.
type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type GenericEnvelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// Wrap encodes data and fills any missing meta fields.
func Wrap[T any](meta Meta, data T) (Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope data: %w", err)
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now().UTC()
	}
	return Envelope{Meta: meta, Data: body}, nil
}

func Unwrap[T any](env Envelope) (GenericEnvelope[T], error) {
	var v T
	if len(env.Data) == 0 {
		return GenericEnvelope[T]{}, fmt.Errorf("envelope %s has no data", env.Meta.ID)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return GenericEnvelope[T]{}, fmt.Errorf("unmarshal envelope data: %w", err)
	}
	return GenericEnvelope[T]{Meta: env.Meta, Data: v}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(body, &env)
	return env, err
}
