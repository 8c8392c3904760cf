package capabilities

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryRegistry is a thread-safe in-process Registry.
type MemoryRegistry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{capabilities: make(map[string]Capability)}
}

// Register adds a capability, replacing any existing one with the same name.
func (r *MemoryRegistry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("register capability: nil capability")
	}
	name := c.Declaration().Name
	if name == "" {
		return fmt.Errorf("register capability: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities[name] = c
	return nil
}

// Unregister removes a capability by name.
func (r *MemoryRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.capabilities, name)
}

// Resolve returns a capability by name.
func (r *MemoryRegistry) Resolve(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.capabilities[name]
	return c, ok
}

// List returns a snapshot of all declarations sorted by name.
func (r *MemoryRegistry) List() []Declaration {
	r.mu.RLock()
	decls := make([]Declaration, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		decls = append(decls, c.Declaration())
	}
	r.mu.RUnlock()

	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}
