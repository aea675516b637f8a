package serde

import (
	"fmt"
)

// Serializer is what the repositories use. The typed pair stores a tag with
// the payload; the plain pair always uses JSON.
type Serializer interface {
	Dumps(v any) ([]byte, error)
	Loads(data []byte, v any) error
	DumpsTyped(v any) (string, []byte, error)
	LoadsTyped(typ string, data []byte, v any) error
}

type TypedSerializer struct {
	registry *Registry
	typed    Codec
	plain    Codec
}

// New writes typed payloads with the codec registered under typedCodec and
// reads them back with whatever codec their tag names.
func New(registry *Registry, typedCodec string) (*TypedSerializer, error) {
	typed, err := registry.Lookup(typedCodec)
	if err != nil {
		return nil, err
	}

	return &TypedSerializer{
		registry: registry,
		typed:    typed,
		plain:    NewJSONCodec(),
	}, nil
}

// Default writes msgpack and reads every codec of DefaultRegistry.
func Default() *TypedSerializer {
	return &TypedSerializer{
		registry: DefaultRegistry(),
		typed:    NewMsgPackCodec(),
		plain:    NewJSONCodec(),
	}
}

func (s *TypedSerializer) Dumps(v any) ([]byte, error) {
	data, err := s.plain.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("codec encoding failed: %w", err)
	}
	return data, nil
}

func (s *TypedSerializer) Loads(data []byte, v any) error {
	if err := s.plain.Decode(data, v); err != nil {
		return fmt.Errorf("codec decoding failed: %w", err)
	}
	return nil
}

func (s *TypedSerializer) DumpsTyped(v any) (string, []byte, error) {
	data, err := s.typed.Encode(v)
	if err != nil {
		return "", nil, fmt.Errorf("%s encoding failed: %w", s.typed.Name(), err)
	}
	return s.typed.Name(), data, nil
}

func (s *TypedSerializer) LoadsTyped(typ string, data []byte, v any) error {
	codec, err := s.registry.Lookup(typ)
	if err != nil {
		return err
	}
	if err := codec.Decode(data, v); err != nil {
		return fmt.Errorf("%s decoding failed: %w", typ, err)
	}
	return nil
}
