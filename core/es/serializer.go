package es

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventSerializer converts payloads to and from their durable representation.
type EventSerializer interface {
	Serialize(p Payload) (typeName string, data []byte, err error)
	Deserialize(typeName string, data []byte) (Payload, error)
}

// JSONSerializer encodes payloads as JSON and resolves type names through an EventRegistry.
type JSONSerializer struct {
	registry *EventRegistry
}

func NewJSONSerializer(registry *EventRegistry) *JSONSerializer {
	return &JSONSerializer{registry: registry}
}

func (s *JSONSerializer) Serialize(p Payload) (string, []byte, error) {
	if p == nil {
		return "", nil, &SerializationError{Err: fmt.Errorf("%w: payload is nil", ErrSerialization)}
	}
	typeName := p.EventType()
	if !s.registry.Has(typeName) {
		return typeName, nil, &SerializationError{TypeName: typeName, Err: ErrTypeNotFound}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return typeName, nil, &SerializationError{TypeName: typeName, Err: fmt.Errorf("%w: %w", ErrSerialization, err)}
	}
	return typeName, data, nil
}

func (s *JSONSerializer) Deserialize(typeName string, data []byte) (Payload, error) {
	p, err := s.registry.New(typeName)
	if err != nil {
		return nil, &SerializationError{TypeName: typeName, Payload: data, Err: ErrTypeNotFound}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &SerializationError{TypeName: typeName, Payload: data, Err: ErrDeserializationFailed}
	}

	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, &SerializationError{TypeName: typeName, Payload: data, Err: fmt.Errorf("%w: %w", ErrDeserializationFailed, err)}
	}
	return p, nil
}

var _ EventSerializer = (*JSONSerializer)(nil)
