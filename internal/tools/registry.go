package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps tool names to declarations and handlers. Registration order
// is preserved for the declarations advertised to providers.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]registeredTool
}

type registeredTool struct {
	decl    Declaration
	handler Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registeredTool)}
}

// Register adds a tool. Names are case-sensitive and must be unique.
func (r *Registry) Register(decl Declaration, handler Handler) error {
	name := strings.TrimSpace(decl.Name)
	if name == "" {
		return fmt.Errorf("tool declaration requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	decl.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s is already registered", name)
	}
	r.entries[name] = registeredTool{decl: decl, handler: handler}
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the declaration and handler for a name.
func (r *Registry) Lookup(name string) (Declaration, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return Declaration{}, nil, false
	}
	return entry.decl, entry.handler, true
}

// Declarations returns all declarations in registration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].decl)
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
