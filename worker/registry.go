package worker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/conduct/lifecycle"
)

// Registry maps function names to domain bodies. Register bodies at
// startup; the pool resolves them by the function name carried in each
// queue reference. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	bodies map[string]lifecycle.Body
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bodies: make(map[string]lifecycle.Body)}
}

// Register binds a body to a function name. Registering the same name
// twice is a programming error.
func (r *Registry) Register(function string, body lifecycle.Body) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bodies[function]; exists {
		return fmt.Errorf("worker: function %q already registered", function)
	}
	r.bodies[function] = body
	return nil
}

// Resolve returns the body registered under the function name.
func (r *Registry) Resolve(function string) (lifecycle.Body, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	body, ok := r.bodies[function]
	return body, ok
}

// Names returns all registered function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bodies))
	for name := range r.bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
