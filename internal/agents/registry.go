// Package agents provides the capability registry that binds named agent
// capabilities to opaque handlers. The engine validates capability names at
// workflow creation and invokes handlers during scheduling; it never inspects
// what a handler does with its parameters.
package agents

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Handler performs the domain work for one capability. Implementations must
// be idempotent under retry and side-effect-free outside the returned result.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Registry maps capability names to handlers. Registration normally happens
// during startup; Resolve is called concurrently by the scheduler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a capability name to a handler.
// Re-registering an existing name returns an error.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("capability name required")
	}
	if handler == nil {
		return fmt.Errorf("capability %s: handler required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// Resolve returns the handler for a capability name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return handler, nil
}

// Has reports whether a capability name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[name]
	return ok
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
