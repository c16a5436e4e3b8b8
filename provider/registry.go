package provider

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Factory constructs a provider, typically reading credentials from the
// environment.
type Factory func() (Provider, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a provider factory to the registry.
// This is typically called from a provider package's init() function.
// Registering a name twice replaces the earlier factory.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// Unregister removes a provider factory.
func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, name)
}

// Get constructs the provider registered under name.
func Get(name string) (Provider, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %q (available: %v)", name, Available())
	}

	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return p, nil
}

// Available returns the sorted names of all registered providers.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// IsRegistered checks if a provider is registered.
func IsRegistered(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[name]
	return ok
}
