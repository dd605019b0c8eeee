package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc processes the payload of one job and returns its result.
type HandlerFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Registry maps job types to handlers. Build one at startup and pass it to
// the Worker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for jobType. Registering a type twice is an error.
func (r *Registry) Register(jobType string, h HandlerFunc) error {
	if jobType == "" {
		return ErrEmptyJobType
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register %s: handler already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for jobType.
func (r *Registry) Lookup(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
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
