package serde

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownType = errors.New("serde: unknown type tag")

// Registry resolves stored type tags to codecs. Records written with any
// registered codec stay readable after the write codec changes.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry holding codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultRegistry knows json, msgpack, msgpack+zstd and json+gzip.
func DefaultRegistry() *Registry {
	r := NewRegistry(NewJSONCodec(), NewMsgPackCodec())

	if c, err := NewCompressedCodec(NewMsgPackCodec(), CompressionZstd); err == nil {
		r.Register(c)
	}
	if c, err := NewCompressedCodec(NewJSONCodec(), CompressionGzip); err == nil {
		r.Register(c)
	}

	return r
}

// Register adds c, replacing any codec with the same name.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name, or ErrUnknownType.
func (r *Registry) Lookup(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return c, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
