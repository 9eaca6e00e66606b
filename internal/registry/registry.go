// Package registry provides a decoder registry for dispatching feed frames
// to the decoder responsible for their message kind.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"ais_ingest/internal/ais"
)

// ErrNoDecoder is returned by Dispatch when no decoder handles the kind.
var ErrNoDecoder = errors.New("no decoder for message kind")

// Result is the common interface for all decoded events.
type Result interface {
	Type() string // e.g. "position", "static"
	Key() int64   // The vessel MMSI
}

// Decoder is implemented by each message-kind decoder.
type Decoder interface {
	// Name returns the decoder's unique identifier.
	Name() string

	// Kinds returns the MessageType values this decoder handles.
	Kinds() []string

	// Decode turns an envelope into a typed result. A nil result with a nil
	// error means the frame is not applicable.
	Decode(env *ais.Envelope) (Result, error)
}

// Registry holds all registered decoders keyed by message kind.
type Registry struct {
	mu     sync.RWMutex
	byKind map[string]Decoder
}

// New creates a new Registry instance.
func New() *Registry {
	return &Registry{
		byKind: make(map[string]Decoder),
	}
}

// Global default registry.
var defaultRegistry = New()

// Default returns the global registry instance.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a decoder to the default registry.
// Called during init() in decoder packages.
func Register(d Decoder) {
	if err := defaultRegistry.Register(d); err != nil {
		panic(err)
	}
}

// Register adds a decoder to the registry. Two decoders may not claim the
// same kind.
func (r *Registry) Register(d Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, kind := range d.Kinds() {
		if existing, ok := r.byKind[kind]; ok {
			return fmt.Errorf("kind %q already handled by %s", kind, existing.Name())
		}
	}
	for _, kind := range d.Kinds() {
		r.byKind[kind] = d
	}
	return nil
}

// Dispatch routes an envelope to the decoder registered for its kind.
func (r *Registry) Dispatch(env *ais.Envelope) (Result, error) {
	r.mu.RLock()
	d, ok := r.byKind[env.MessageType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDecoder, env.MessageType)
	}
	return d.Decode(env)
}

// Handles reports whether a decoder is registered for kind.
func (r *Registry) Handles(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKind[kind]
	return ok
}
