package steps

import (
	"sort"
	"sync"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// Registry is the thread-safe node-kind to handler table the engine
// dispatches through.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.NodeType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.NodeType]Handler),
	}
}

// Register adds a handler to the registry. Returns error on duplicate kind.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	kind := h.Kind()
	if kind == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler kind is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %q already registered", kind)
	}

	r.handlers[kind] = h
	return nil
}

// Get retrieves the handler for a node kind.
func (r *Registry) Get(kind schema.NodeType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeGraph, "no handler registered for node type %q", kind)
	}
	return h, nil
}

// Kinds returns the registered node kinds, sorted.
func (r *Registry) Kinds() []schema.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]schema.NodeType, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
