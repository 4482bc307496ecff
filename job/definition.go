package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is a typed job definition with a handler function.
// T is the payload type; its JSON form must be flat string fields so it
// round-trips through the payload map (values are strings).
type Definition[T any] struct {
	// Kind is the unique identifier for this job type.
	Kind string

	// Handler is the function that processes the decoded payload.
	Handler func(ctx context.Context, payload T) error

	// Opts configures the retry budget and scheduling defaults applied
	// when this definition is enqueued through the engine.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](kind string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Kind:    kind,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// EncodePayload converts a typed payload into the string map carried by a
// job record, via a JSON round-trip.
func EncodePayload[T any](v T) (map[string]string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode payload: not a flat string mapping: %w", err)
	}
	return m, nil
}

// DecodePayload converts a job record's payload map into the typed payload.
func DecodePayload[T any](payload map[string]string) (T, error) {
	var t T
	if len(payload) == 0 {
		return t, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
