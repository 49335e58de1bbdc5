package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Handler performs the remote effect for one action type. It receives the
// exact payload stored at enqueue time and returns nil on success; any error
// counts as a failed attempt against the retry budget.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps action types to handlers. Transport owners register their
// handlers at startup; the worker dispatches through the registry and never
// sees a concrete client. An action whose type has no registration is moved
// to the dead letter collection without consuming a retry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an action type, replacing any previous binding.
func (r *Registry) Register(actionType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

// Get returns the handler for an action type.
func (r *Registry) Get(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[actionType]
	return handler, ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
