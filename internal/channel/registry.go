package channel

import (
	"fmt"
	"sync"
)

// Registry holds the configured adapters keyed by channel type. Adapters
// register once during startup; lookups are concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Type]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Type()]; ok {
		return fmt.Errorf("adapter already registered: %s", a.Type())
	}
	r.adapters[a.Type()] = a
	return nil
}

func (r *Registry) Get(t Type) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// Sender returns the adapter for t if it can send.
func (r *Registry) Sender(t Type) (Sender, error) {
	a, ok := r.Get(t)
	if !ok {
		return nil, fmt.Errorf("no adapter for channel %s", t)
	}
	s, ok := a.(Sender)
	if !ok {
		return nil, fmt.Errorf("channel %s cannot send", t)
	}
	return s, nil
}

// Decoder returns the adapter for t if it decodes webhooks.
func (r *Registry) Decoder(t Type) (WebhookDecoder, error) {
	a, ok := r.Get(t)
	if !ok {
		return nil, fmt.Errorf("no adapter for channel %s", t)
	}
	d, ok := a.(WebhookDecoder)
	if !ok {
		return nil, fmt.Errorf("channel %s has no webhook surface", t)
	}
	return d, nil
}

// Types lists the registered channel types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
