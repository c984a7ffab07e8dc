// Package fanout carries hub broadcasts between instances of the service.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultSubject is the NATS subject / Redis channel broadcasts travel on.
const DefaultSubject = "chathub.fanout"

// Envelope is one broadcast or direct delivery crossing instances.
// Exactly one of Group and ConnectionID is set.
type Envelope struct {
	Origin       string          `json:"origin"`
	Group        string          `json:"group,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Exclude      string          `json:"exclude,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// Handler receives envelopes published by any instance, including the local one.
type Handler func(Envelope)

// Relay publishes envelopes to every subscribed instance.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

func encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// MemoryBus connects relays living in the same process. It backs
// single-binary multi-hub setups and tests.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[*memoryRelay]Handler
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[*memoryRelay]Handler)}
}

// Relay returns a new relay attached to the bus.
func (b *MemoryBus) Relay() Relay {
	return &memoryRelay{bus: b}
}

type memoryRelay struct {
	bus *MemoryBus
}

func (r *memoryRelay) Publish(_ context.Context, env Envelope) error {
	// Round-trip through JSON so receivers never share the sender's buffers.
	data, err := encode(env)
	if err != nil {
		return err
	}
	r.bus.mu.RLock()
	handlers := make([]Handler, 0, len(r.bus.handlers))
	for _, h := range r.bus.handlers {
		handlers = append(handlers, h)
	}
	r.bus.mu.RUnlock()

	for _, h := range handlers {
		out, err := decode(data)
		if err != nil {
			return err
		}
		h(out)
	}
	return nil
}

func (r *memoryRelay) Subscribe(_ context.Context, handler Handler) error {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	r.bus.handlers[r] = handler
	return nil
}

func (r *memoryRelay) Close() error {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	delete(r.bus.handlers, r)
	return nil
}
